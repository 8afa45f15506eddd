package dispensing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type SessionState string

const (
	SessionOpen      SessionState = "open"
	SessionSubmitted SessionState = "submitted"
	SessionCancelled SessionState = "cancelled"
)

// Session is one pharmacist working through one prescription. Every
// exported method of Service locks it for the whole operation.
type Session struct {
	mu sync.Mutex

	ID           string
	Prescription *Prescription
	Lines        []*DispensingLine
	State        SessionState
	StartedBy    Actor
	StartedAt    time.Time
	// Completes is set when the session settles an earlier partial dispensing.
	Completes string

	candidates   map[string][]BatchCandidate
	wizards      map[string]*SubstitutionWizard
	lookupErrors map[string]string
}

func newSession(id string, p *Prescription, lines []*DispensingLine, actor Actor, now time.Time) *Session {
	return &Session{
		ID:           id,
		Prescription: p,
		Lines:        lines,
		State:        SessionOpen,
		StartedBy:    actor,
		StartedAt:    now,
		candidates:   make(map[string][]BatchCandidate),
		wizards:      make(map[string]*SubstitutionWizard),
		lookupErrors: make(map[string]string),
	}
}

func (s *Session) line(lineID string) (*DispensingLine, error) {
	for _, l := range s.Lines {
		if l.PrescriptionLineID == lineID {
			return l, nil
		}
	}
	return nil, validationErr("line_id", "no line %s in this prescription", lineID)
}

func (s *Session) requireOpen() error {
	if s.State != SessionOpen {
		return validationErr("session", "session is %s", s.State)
	}
	return nil
}

// SessionView is a point-in-time copy of a session for callers.
type SessionView struct {
	ID                 string                        `json:"id"`
	State              SessionState                  `json:"state"`
	PrescriptionID     string                        `json:"prescription_id"`
	PrescriptionNumber string                        `json:"prescription_number"`
	PatientID          string                        `json:"patient_id"`
	PatientName        string                        `json:"patient_name"`
	DoctorName         string                        `json:"doctor_name,omitempty"`
	Lines              []DispensingLine              `json:"lines"`
	Candidates         map[string][]BatchCandidate   `json:"candidates"`
	Substitutions      map[string]SubstitutionWizard `json:"substitutions,omitempty"`
	LookupErrors       map[string]string             `json:"lookup_errors,omitempty"`
	DispensingType     DispensingType                `json:"dispensing_type"`
	TotalAmount        decimal.Decimal               `json:"total_amount"`
	StartedBy          string                        `json:"started_by"`
	StartedAt          time.Time                     `json:"started_at"`
	Completes          string                        `json:"completes,omitempty"`
}

// view copies the session. The caller holds s.mu.
func (s *Session) view() *SessionView {
	v := &SessionView{
		ID:             s.ID,
		State:          s.State,
		Lines:          make([]DispensingLine, 0, len(s.Lines)),
		Candidates:     make(map[string][]BatchCandidate, len(s.candidates)),
		Substitutions:  make(map[string]SubstitutionWizard, len(s.wizards)),
		LookupErrors:   make(map[string]string, len(s.lookupErrors)),
		DispensingType: ResolveDispensingType(s.Lines),
		TotalAmount:    decimal.Zero,
		StartedBy:      s.StartedBy.ID,
		StartedAt:      s.StartedAt,
		Completes:      s.Completes,
	}
	if p := s.Prescription; p != nil {
		v.PrescriptionID = p.ID
		v.PrescriptionNumber = p.PrescriptionNumber
		v.PatientID = p.PatientID
		v.PatientName = p.PatientName
		v.DoctorName = p.DoctorName
	}
	for _, l := range s.Lines {
		cp := *l
		if l.SelectedBatch != nil {
			b := *l.SelectedBatch
			cp.SelectedBatch = &b
		}
		v.Lines = append(v.Lines, cp)
		v.TotalAmount = v.TotalAmount.Add(l.LineTotal())
	}
	v.TotalAmount = v.TotalAmount.Round(2)
	for k, c := range s.candidates {
		v.Candidates[k] = append([]BatchCandidate(nil), c...)
	}
	for k, w := range s.wizards {
		cp := *w
		cp.Candidates = append([]SubstituteCandidate(nil), w.Candidates...)
		v.Substitutions[k] = cp
	}
	for k, e := range s.lookupErrors {
		v.LookupErrors[k] = e
	}
	return v
}
