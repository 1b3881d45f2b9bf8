// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package flows matches completed correlation sessions against reference 3GPP
// procedure templates and reports how far the observed call flow deviated
// from the standard sequence.
package flows

import (
	"expvar"
	"fmt"
	"strings"
	"time"

	"github.com/DataDog/sigmon/pkg/correlation"
	"github.com/DataDog/sigmon/pkg/decoder"
	"github.com/DataDog/sigmon/pkg/telemetry"
	"github.com/DataDog/sigmon/pkg/util/log"
)

const (
	// Severity of a flow deviation.
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"

	// Result of a reconstructed flow.
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailure = "failure"

	// ProcedureUnknown is reported when no template reaches full coverage of
	// its distinct mandatory message names.
	ProcedureUnknown = "Unknown"

	// stepTimeout is the gap between consecutive matched steps above which a
	// timeout deviation is raised.
	stepTimeout = 5 * time.Second
)

var (
	flowExpvars   = expvar.NewMap("flows")
	expFlows      = expvar.Int{}
	expUnknown    = expvar.Int{}
	expDeviations = expvar.Int{}

	tlmFlows = telemetry.NewCounter("flows", "reconstructed_total",
		"Flows reconstructed, by procedure and result.", "procedure", "result")
)

func init() {
	flowExpvars.Set("FlowsReconstructed", &expFlows)
	flowExpvars.Set("UnknownProcedures", &expUnknown)
	flowExpvars.Set("Deviations", &expDeviations)
}

// MatchedStep records a template step observed in the session.
type MatchedStep struct {
	StepNumber  int       `json:"step_number"`
	MessageID   string    `json:"message_id"`
	MessageName string    `json:"message_name"`
	Protocol    string    `json:"protocol"`
	Timestamp   time.Time `json:"timestamp"`
}

// Deviation is one departure from the reference procedure.
type Deviation struct {
	Type        string `json:"type"` // missing_step | out_of_order | timeout | unexpected_message
	Severity    string `json:"severity"`
	StepNumber  int    `json:"step_number,omitempty"`
	Description string `json:"description"`
}

// CapturedFlow is the result of matching one session against the templates.
type CapturedFlow struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	Procedure    string        `json:"procedure"`
	Standard     string        `json:"standard,omitempty"`
	Generation   string        `json:"generation,omitempty"`
	IMSI         string        `json:"imsi,omitempty"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	MatchedSteps []MatchedStep `json:"matched_steps"`
	Deviations   []Deviation   `json:"deviations"`
	Completeness float64       `json:"completeness"`
	Result       string        `json:"result"`
}

// CriticalDeviations counts the critical entries.
func (f *CapturedFlow) CriticalDeviations() int {
	n := 0
	for _, d := range f.Deviations {
		if d.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// Reconstructor matches sessions against procedure templates. Stateless
// beyond its template set; safe for concurrent use.
type Reconstructor struct {
	templates []*Template
}

// NewReconstructor builds a reconstructor with the built-in template set.
func NewReconstructor() *Reconstructor {
	return &Reconstructor{templates: builtinTemplates()}
}

// Templates returns the reference procedures the reconstructor knows.
func (r *Reconstructor) Templates() []*Template {
	return r.templates
}

// Reconstruct matches a completed session against the template set and
// returns the captured flow. Sessions matching no template are reported with
// procedure "Unknown" and no step analysis.
func (r *Reconstructor) Reconstruct(s *correlation.Session) *CapturedFlow {
	flow := &CapturedFlow{
		ID:        "FLOW_" + s.ID,
		SessionID: s.ID,
		Procedure: ProcedureUnknown,
		StartTime: s.StartTime,
		EndTime:   s.LastActivity,
		Duration:  s.LastActivity.Sub(s.StartTime),
	}
	flow.IMSI = s.Identifier(correlation.IdentifierIMSI)

	tpl := r.detectProcedure(s.Messages)
	if tpl == nil {
		expFlows.Add(1)
		expUnknown.Add(1)
		flow.Result = resultOf(flow)
		tlmFlows.WithLabelValues(flow.Procedure, flow.Result).Inc()
		return flow
	}
	flow.Procedure = tpl.Name
	flow.Standard = tpl.Standard
	flow.Generation = tpl.Generation

	matched := matchSteps(tpl, s.Messages)
	flow.MatchedSteps = matchedSteps(tpl, s.Messages, matched)
	flow.Deviations = detectDeviations(tpl, s.Messages, matched)
	flow.Completeness = completeness(tpl, matched)
	flow.Result = resultOf(flow)

	expFlows.Add(1)
	expDeviations.Add(int64(len(flow.Deviations)))
	tlmFlows.WithLabelValues(flow.Procedure, flow.Result).Inc()
	log.Debugf("flow %s: procedure=%q completeness=%.2f result=%s deviations=%d",
		flow.ID, flow.Procedure, flow.Completeness, flow.Result, len(flow.Deviations))
	return flow
}

// stepMatches reports whether a message satisfies a template step.
func stepMatches(step *Step, m *decoder.Message) bool {
	if m.Protocol != step.Protocol {
		return false
	}
	if step.Direction != "" && m.Direction != step.Direction {
		return false
	}
	return strings.Contains(strings.ToLower(m.MessageName), strings.ToLower(step.Message))
}

// detectProcedure scores each template by the number of its mandatory steps
// whose (protocol, message) shape appears anywhere in the session. The best
// score wins; ties break toward the template with more mandatory steps. A
// session matching no mandatory step of any template has no procedure.
func (r *Reconstructor) detectProcedure(msgs []*decoder.Message) *Template {
	var best *Template
	bestScore := 0
	for _, tpl := range r.templates {
		score := templateScore(tpl, msgs)
		if score < 1 {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && tpl.mandatorySteps() > best.mandatorySteps()) {
			best = tpl
			bestScore = score
		}
	}
	return best
}

func templateScore(tpl *Template, msgs []*decoder.Message) int {
	score := 0
	for i := range tpl.Steps {
		step := &tpl.Steps[i]
		if !step.Mandatory {
			continue
		}
		for _, m := range msgs {
			if m.Protocol == step.Protocol &&
				strings.Contains(strings.ToLower(m.MessageName), strings.ToLower(step.Message)) {
				score++
				break
			}
		}
	}
	return score
}

// matchSteps pairs template steps with session messages: each step takes the
// earliest unused message that satisfies it. Returns step index -> message
// index, -1 when unmatched.
func matchSteps(tpl *Template, msgs []*decoder.Message) []int {
	matched := make([]int, len(tpl.Steps))
	used := make([]bool, len(msgs))
	for i := range tpl.Steps {
		matched[i] = -1
		for j, m := range msgs {
			if used[j] || !stepMatches(&tpl.Steps[i], m) {
				continue
			}
			matched[i] = j
			used[j] = true
			break
		}
	}
	return matched
}

func matchedSteps(tpl *Template, msgs []*decoder.Message, matched []int) []MatchedStep {
	out := make([]MatchedStep, 0, len(tpl.Steps))
	for i, j := range matched {
		if j < 0 {
			continue
		}
		m := msgs[j]
		out = append(out, MatchedStep{
			StepNumber:  tpl.Steps[i].Number,
			MessageID:   m.ID,
			MessageName: m.MessageName,
			Protocol:    string(m.Protocol),
			Timestamp:   m.Timestamp,
		})
	}
	return out
}

// detectDeviations derives the departures from the reference sequence:
// missing mandatory steps, matched steps observed out of template order,
// gaps above stepTimeout between consecutive matched steps, and messages
// matching no step at all.
func detectDeviations(tpl *Template, msgs []*decoder.Message, matched []int) []Deviation {
	var devs []Deviation

	for i, j := range matched {
		step := &tpl.Steps[i]
		if j < 0 && step.Mandatory {
			devs = append(devs, Deviation{
				Type:        "missing_step",
				Severity:    SeverityCritical,
				StepNumber:  step.Number,
				Description: "missing mandatory step: " + string(step.Protocol) + " " + step.Message,
			})
		}
	}

	// Matched message indices must be non-decreasing in step order.
	last := -1
	for i, j := range matched {
		if j < 0 {
			continue
		}
		if j < last {
			devs = append(devs, Deviation{
				Type:        "out_of_order",
				Severity:    SeverityMajor,
				StepNumber:  tpl.Steps[i].Number,
				Description: "step observed out of order: " + string(tpl.Steps[i].Protocol) + " " + tpl.Steps[i].Message,
			})
		}
		last = j
	}

	var prev *decoder.Message
	var prevStep int
	for i, j := range matched {
		if j < 0 {
			continue
		}
		m := msgs[j]
		if prev != nil {
			if gap := m.Timestamp.Sub(prev.Timestamp); gap > stepTimeout {
				devs = append(devs, Deviation{
					Type:       "timeout",
					Severity:   SeverityMajor,
					StepNumber: tpl.Steps[i].Number,
					Description: fmt.Sprintf("gap of %s between steps %d and %d",
						gap.Round(time.Millisecond), tpl.Steps[prevStep].Number, tpl.Steps[i].Number),
				})
			}
		}
		prev = m
		prevStep = i
	}

	used := make([]bool, len(msgs))
	for _, j := range matched {
		if j >= 0 {
			used[j] = true
		}
	}
	for j, m := range msgs {
		if !used[j] {
			devs = append(devs, Deviation{
				Type:        "unexpected_message",
				Severity:    SeverityMinor,
				Description: "unexpected message: " + string(m.Protocol) + " " + m.MessageName,
			})
		}
	}
	return devs
}

// completeness is the fraction of mandatory steps matched.
func completeness(tpl *Template, matched []int) float64 {
	total, hit := 0, 0
	for i := range tpl.Steps {
		if !tpl.Steps[i].Mandatory {
			continue
		}
		total++
		if matched[i] >= 0 {
			hit++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hit) / float64(total)
}

// resultOf grades a flow. A flow with no recognized procedure is graded
// partial: nothing was expected of it, so nothing failed.
func resultOf(f *CapturedFlow) string {
	if f.Procedure == ProcedureUnknown {
		return ResultPartial
	}
	switch {
	case f.Completeness >= 0.9 && f.CriticalDeviations() == 0:
		return ResultSuccess
	case f.Completeness < 0.5:
		return ResultFailure
	default:
		return ResultPartial
	}
}
