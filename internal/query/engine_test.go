package query

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/tabdoc/internal/docstore"
)

const propertiesXML = `<?xml version="1.0" encoding="UTF-8"?>
<properties>
<property property_id="1"><city>Lisbon</city><price>100000</price></property>
<property property_id="2"><city>Porto</city><price>250000</price></property>
<property property_id="3"><city>Lisbon</city><price>300000</price></property>
</properties>
`

func loaded(t *testing.T, doc string) (*docstore.Store, *Engine) {
	t.Helper()
	s := docstore.New()
	if err := s.Load([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	return s, NewEngine(s)
}

func TestCount(t *testing.T) {
	_, e := loaded(t, propertiesXML)
	if got := e.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	if got := NewEngine(docstore.New()).Count(); got != 0 {
		t.Errorf("empty store Count() = %d", got)
	}
}

func TestGetByID(t *testing.T) {
	_, e := loaded(t, propertiesXML)

	rec, err := e.GetByID(2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "2" {
		t.Errorf("id = %s", rec.ID)
	}
	if len(rec.Fields) != 2 || rec.Fields[0] != (Field{"city", "Porto"}) || rec.Fields[1] != (Field{"price", "250000"}) {
		t.Errorf("fields = %+v", rec.Fields)
	}
	want := `<property property_id="2"><city>Porto</city><price>250000</price></property>`
	if rec.XML != want {
		t.Errorf("xml = %s", rec.XML)
	}

	for _, id := range []int{0, 4, -1, 100} {
		if _, err := e.GetByID(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByID(%d) err = %v", id, err)
		}
	}
	if _, err := NewEngine(docstore.New()).GetByID(1); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("not loaded err = %v", err)
	}
}

func TestGetByID_FirstMatchWins(t *testing.T) {
	_, e := loaded(t, `<r><i id="1"><v>a</v></i><i id="1"><v>b</v></i></r>`)
	rec, err := e.GetByID(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Fields[0].Value != "a" {
		t.Errorf("got %s", rec.Fields[0].Value)
	}
}

func TestLookupText(t *testing.T) {
	_, e := loaded(t, propertiesXML)
	if got := e.LookupText(1); !strings.Contains(got, "<city>Lisbon</city>") {
		t.Errorf("got %s", got)
	}
	if got := e.LookupText(9); got != NotFoundText {
		t.Errorf("got %s", got)
	}
	if got := NewEngine(docstore.New()).LookupText(1); got != NotLoadedText {
		t.Errorf("got %s", got)
	}
}

func TestExecute(t *testing.T) {
	_, e := loaded(t, propertiesXML)

	tests := []struct {
		name  string
		query string
		kind  Kind
		want  []string
	}{
		{"text nodes", "//city/text()", Nodes, []string{"Lisbon", "Porto", "Lisbon"}},
		{"empty node-set", "//nonexistent", Nodes, []string{}},
		{"elements", "//property[@property_id='3']/price", Nodes, []string{"<price>300000</price>"}},
		{"attributes", "//property/@property_id", Nodes, []string{"1", "2", "3"}},
		{"relative to root", "property[city='Porto']/price/text()", Nodes, []string{"250000"}},
		{"count", "count(//property)", Scalar, []string{"3"}},
		{"sum", "sum(//price)", Scalar, []string{"650000"}},
		{"average", "sum(//price) div 4", Scalar, []string{"162500"}},
		{"fraction", "1 div 4", Scalar, []string{"0.25"}},
		{"string", "string(//property[2]/city)", Scalar, []string{"Porto"}},
		{"boolean", "count(//property) > 2", Scalar, []string{"true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(tt.query)
			if res.Kind != tt.kind {
				t.Fatalf("kind = %s (%v), want %s", res.Kind, res.Values, tt.kind)
			}
			if fmt.Sprint(res.Values) != fmt.Sprint(tt.want) || len(res.Values) != len(tt.want) {
				t.Errorf("values = %q, want %q", res.Values, tt.want)
			}
		})
	}
}

func TestExecute_Failures(t *testing.T) {
	_, e := loaded(t, propertiesXML)
	for _, q := range []string{"", "   ", "//[", "count(", "//city[", "unknownfn(1)"} {
		res := e.Execute(q)
		if res.Kind != Failed || len(res.Values) != 1 {
			t.Errorf("Execute(%q) = %s %q", q, res.Kind, res.Values)
			continue
		}
		if !strings.HasPrefix(res.Values[0], "query error: ") {
			t.Errorf("Execute(%q) message = %q", q, res.Values[0])
		}
	}

	res := NewEngine(docstore.New()).Execute("//city")
	if res.Kind != Failed || len(res.Values) != 1 || res.Values[0] != NotLoadedText {
		t.Errorf("not loaded = %s %q", res.Kind, res.Values)
	}
}

func TestExecute_SeesReplacedDocument(t *testing.T) {
	s, e := loaded(t, propertiesXML)
	if err := s.Replace([]byte(`<records><record id="1"><city>Faro</city></record></records>`)); err != nil {
		t.Fatal(err)
	}
	res := e.Execute("//city/text()")
	if len(res.Values) != 1 || res.Values[0] != "Faro" {
		t.Errorf("got %q", res.Values)
	}
	if e.Count() != 1 {
		t.Errorf("count = %d", e.Count())
	}
}

func TestExecute_Concurrent(t *testing.T) {
	_, e := loaded(t, propertiesXML)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				res := e.Execute("//city/text()")
				if len(res.Values) != 3 {
					t.Errorf("got %q", res.Values)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestFormatNumber(t *testing.T) {
	cases := map[float64]string{0: "0", 3: "3", -2: "-2", 0.5: "0.5", 1.25: "1.25"}
	for in, want := range cases {
		if got := FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%v) = %s, want %s", in, got, want)
		}
	}
}
