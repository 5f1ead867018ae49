package model

import (
	"strings"
	"time"
)

// AnalysisType names the kind of calculation an analysis identifier refers to.
type AnalysisType string

const (
	AnalysisRevenue          AnalysisType = "Revenue"
	AnalysisCost             AnalysisType = "Cost"
	AnalysisProfit           AnalysisType = "Profit"
	AnalysisBreakEven        AnalysisType = "BreakEven"
	AnalysisCompoundInterest AnalysisType = "CompoundInterest"
	AnalysisQuadratic        AnalysisType = "Quadratic"
	AnalysisBusiness         AnalysisType = "Business"
)

var analysisPrefixes = map[string]AnalysisType{
	"rev":               AnalysisRevenue,
	"revenue":           AnalysisRevenue,
	"cost":              AnalysisCost,
	"costs":             AnalysisCost,
	"profit":            AnalysisProfit,
	"be":                AnalysisBreakEven,
	"breakeven":         AnalysisBreakEven,
	"ci":                AnalysisCompoundInterest,
	"compound":          AnalysisCompoundInterest,
	"compound_interest": AnalysisCompoundInterest,
	"compound-interest": AnalysisCompoundInterest,
	"quad":              AnalysisQuadratic,
	"quadratic":         AnalysisQuadratic,
}

// AnalysisTypeOf infers the analysis type from an identifier such as
// "rev-1" or "quadratic-42". Unknown prefixes map to AnalysisBusiness.
func AnalysisTypeOf(id string) AnalysisType {
	id = strings.ToLower(strings.TrimSpace(id))
	if t, ok := analysisPrefixes[id]; ok {
		return t
	}
	if i := strings.LastIndexAny(id, "-:"); i > 0 {
		if t, ok := analysisPrefixes[id[:i]]; ok {
			return t
		}
	}
	if i := strings.IndexAny(id, "-_:"); i > 0 {
		if t, ok := analysisPrefixes[id[:i]]; ok {
			return t
		}
	}
	return AnalysisBusiness
}

// ArtifactName returns the artifact name for o. A custom filename gets the
// format's extension appended when it does not already carry it; otherwise
// the name is {AnalysisType}Analysis_{YYYY-MM-DD}{ext} using the first
// identifier and the given date.
func (o Options) ArtifactName(date time.Time) string {
	ext := o.Format.Extension()
	if name := strings.TrimSpace(o.Filename); name != "" {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name
		}
		return name + ext
	}
	kind := AnalysisBusiness
	if len(o.AnalysisIDs) > 0 {
		kind = AnalysisTypeOf(o.AnalysisIDs[0])
	}
	return string(kind) + "Analysis_" + date.Format("2006-01-02") + ext
}
