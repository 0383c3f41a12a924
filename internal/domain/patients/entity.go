package patients

import "time"

// PatientID is owned by the external patient directory.
type PatientID string

// Identity is the read-only view of a directory record used for caller matching.
type Identity struct {
	ID            PatientID  `json:"id"`
	Name          string     `json:"name"`
	PrimaryPhone  string     `json:"primaryPhone"`
	Status        string     `json:"status,omitempty"`
	Temperature   string     `json:"temperature,omitempty"`
	LastContactAt *time.Time `json:"lastContactAt,omitempty"`
}

// Confidence of a resolved match
type Confidence string

const (
	ConfidenceHigh Confidence = "HIGH"
	ConfidenceLow  Confidence = "LOW"
)

// MatchType enum
type MatchType string

const (
	MatchExact   MatchType = "EXACT"
	MatchSimilar MatchType = "SIMILAR"
)

// Tier of the resolver that produced a match.
type Tier int

const (
	TierPrimary   Tier = 1
	TierAuxiliary Tier = 2
	TierSuffix    Tier = 3
)

// Match is the outcome of a successful identity resolution.
type Match struct {
	Identity   Identity   `json:"identity"`
	Confidence Confidence `json:"confidence"`
	MatchType  MatchType  `json:"matchType"`
	Tier       Tier       `json:"tier"`
}

// PhoneKind names the directory field a phone number came from.
type PhoneKind string

const (
	PhonePrimary PhoneKind = "primary"
	PhoneMobile  PhoneKind = "mobile"
	PhoneHome    PhoneKind = "home"
	PhoneWork    PhoneKind = "work"
)

// AuxiliaryKinds are searched by tier 2, in this order.
var AuxiliaryKinds = []PhoneKind{PhoneMobile, PhoneHome, PhoneWork}

// PhoneSet is the raw phone fields of one patient as the console stores them.
type PhoneSet struct {
	Primary string `json:"primary"`
	Mobile  string `json:"mobile,omitempty"`
	Home    string `json:"home,omitempty"`
	Work    string `json:"work,omitempty"`
}

// IndexedPhone is one canonical row of the phone index.
type IndexedPhone struct {
	PatientID PatientID
	Kind      PhoneKind
	Digits    string
}

// Index normalizes every non-empty field. Fields normalizing to nothing are dropped.
func (s PhoneSet) Index(id PatientID) []IndexedPhone {
	fields := []struct {
		kind PhoneKind
		raw  string
	}{
		{PhonePrimary, s.Primary},
		{PhoneMobile, s.Mobile},
		{PhoneHome, s.Home},
		{PhoneWork, s.Work},
	}
	out := make([]IndexedPhone, 0, len(fields))
	for _, f := range fields {
		d := NormalizePhone(f.raw)
		if d == "" {
			continue
		}
		out = append(out, IndexedPhone{PatientID: id, Kind: f.kind, Digits: d})
	}
	return out
}

// ProfileUpdate is what a finished analysis may write back to the patient record.
type ProfileUpdate struct {
	Temperature    string `json:"temperature,omitempty"`
	Interest       string `json:"interest,omitempty"`
	InterestDetail string `json:"interestDetail,omitempty"`
	Name           string `json:"name,omitempty"`
	Status         string `json:"status,omitempty"`
	CallRecordID   string `json:"callRecordId"`
}

// StatusReserved is set on the patient when the call ended with a booking.
const StatusReserved = "reserved"
