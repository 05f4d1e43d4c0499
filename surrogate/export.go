package surrogate

import (
	"encoding/json"
	"encoding/xml"
	"io"

	"github.com/rwcarlsen/hdmr/dist"
)

// Export is the serializable form of a fitted surrogate.
type Export struct {
	XMLName       xml.Name          `xml:"HDMR" json:"-"`
	Variables     []ExportVariable  `xml:"Variables>Variable" json:"variables"`
	Outputs       int               `xml:"Outputs" json:"outputs"`
	Mean          []float64         `xml:"Mean>Value" json:"mean"`
	TotalVariance []float64         `xml:"TotalVariance>Value" json:"totalVariance"`
	Components    []ExportComponent `xml:"Components>Component" json:"components"`
	Indices       []ExportIndex     `xml:"Indices>Index" json:"indices"`
	Residual      []float64         `xml:"Residual>Value" json:"residual"`
}

type ExportVariable struct {
	Name   string  `xml:"name,attr" json:"name"`
	Kind   string  `xml:"kind,attr" json:"kind"`
	Family string  `xml:"family,attr" json:"family"`
	Mean   float64 `xml:"mean,attr" json:"mean"`
}

type ExportComponent struct {
	Subset   string       `xml:"subset,attr" json:"subset"`
	Weight   int          `xml:"weight,attr" json:"weight"`
	Degrees  []int        `xml:"Degrees>Degree" json:"degrees"`
	Variance []float64    `xml:"Variance>Value" json:"variance"`
	Terms    []ExportTerm `xml:"Term" json:"terms"`
}

type ExportTerm struct {
	Index string    `xml:"index,attr" json:"index"`
	Coef  []float64 `xml:"Coef" json:"coef"`
}

type ExportIndex struct {
	Subset string    `xml:"subset,attr" json:"subset"`
	Value  []float64 `xml:"Value" json:"value"`
}

// Export describes h with subsets and terms named by variable name.
func (h *HDMR) Export() *Export {
	names := h.space.Names()
	e := &Export{
		Outputs:       h.outputs,
		Mean:          h.Mean(),
		TotalVariance: h.TotalVariance(),
	}
	for i := 0; i < h.space.Len(); i++ {
		v := h.space.Variable(i)
		e.Variables = append(e.Variables, ExportVariable{
			Name:   v.Name,
			Kind:   string(dist.KindOf(v.Dist)),
			Family: v.Dist.Family().Name(),
			Mean:   v.Dist.Mean(),
		})
	}
	for _, u := range h.subsets {
		m := h.comps[u.Key()]
		ec := ExportComponent{
			Subset:   u.Names(names),
			Weight:   h.weights[u.Key()],
			Degrees:  m.Degrees(),
			Variance: m.VarianceContribution(),
		}
		coefs := m.Coefficients()
		for i, k := range m.Basis() {
			ec.Terms = append(ec.Terms, ExportTerm{Index: k.Key(), Coef: coefs[i]})
		}
		e.Components = append(e.Components, ec)
	}
	ix := h.SensitivityIndices()
	for i, u := range ix.Subsets {
		e.Indices = append(e.Indices, ExportIndex{Subset: u.Names(names), Value: ix.Values[i]})
	}
	e.Residual = ix.Residual
	return e
}

func (e *Export) WriteXML(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(e); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (e *Export) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}
