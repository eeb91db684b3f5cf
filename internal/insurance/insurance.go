package insurance

import (
	"regexp"
	"strings"
	"time"
)

// Carrier is a recognized insurance carrier, normalized from free-form input.
type Carrier string

const (
	CarrierAetna     Carrier = "Aetna"
	CarrierBlueCross Carrier = "Blue Cross Blue Shield"
	CarrierCigna     Carrier = "Cigna"
	CarrierUnited    Carrier = "UnitedHealthcare"
	CarrierHumana    Carrier = "Humana"
	CarrierKaiser    Carrier = "Kaiser Permanente"
	CarrierAnthem    Carrier = "Anthem"
	CarrierMedicare  Carrier = "Medicare"
	CarrierMedicaid  Carrier = "Medicaid"
	CarrierTricare   Carrier = "Tricare"
	CarrierSelfPay   Carrier = "Self-Pay"
)

// VerificationStatus tracks whether a record has passed verification.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusVerified   VerificationStatus = "verified"
	StatusRejected   VerificationStatus = "rejected"
)

// Record is a patient's insurance information.
type Record struct {
	Carrier    Carrier
	MemberID   string
	GroupID    string
	Status     VerificationStatus
	VerifiedAt *time.Time
}

// Result is the outcome of a verification attempt.
type Result struct {
	Verified bool
	Reason   string
}

// Verifier validates carrier, member ID and group number. Pure; no I/O.
type Verifier interface {
	Verify(carrier Carrier, memberID, groupID string) Result
}

// carrierRule holds per-carrier member ID and group number formats.
type carrierRule struct {
	memberID      *regexp.Regexp
	groupRequired bool
	group         *regexp.Regexp
}

var carrierRules = map[Carrier]carrierRule{
	CarrierAetna: {
		memberID:      regexp.MustCompile(`^[A-Z]\d{8}$`),
		groupRequired: true,
		group:         regexp.MustCompile(`^\d{5,7}$`),
	},
	CarrierBlueCross: {
		memberID:      regexp.MustCompile(`^[A-Z]{3}\d{9}$`),
		groupRequired: true,
		group:         regexp.MustCompile(`^[A-Z0-9]{5,10}$`),
	},
	CarrierCigna: {
		memberID:      regexp.MustCompile(`^\d{9}$`),
		groupRequired: true,
		group:         regexp.MustCompile(`^\d{6,7}$`),
	},
	CarrierUnited: {
		memberID: regexp.MustCompile(`^\d{9,11}$`),
		group:    regexp.MustCompile(`^[A-Z0-9]{5,10}$`),
	},
	CarrierMedicare: {
		memberID: regexp.MustCompile(`^\d{3}-\d{2}-\d{4}[A-Z]?$`),
	},
	CarrierMedicaid: {
		memberID: regexp.MustCompile(`^[A-Z0-9]{8,12}$`),
	},
}

// genericMemberID applies when a carrier has no dedicated pattern:
// 6-12 alphanumeric characters.
var genericMemberID = regexp.MustCompile(`^[A-Za-z0-9]{6,12}$`)

// aliases maps lowercase substrings of user input to carriers.
var aliases = []struct {
	key     string
	carrier Carrier
}{
	{"aetna", CarrierAetna},
	{"blue cross", CarrierBlueCross},
	{"bcbs", CarrierBlueCross},
	{"blue shield", CarrierBlueCross},
	{"cigna", CarrierCigna},
	{"unitedhealthcare", CarrierUnited},
	{"united", CarrierUnited},
	{"uhc", CarrierUnited},
	{"humana", CarrierHumana},
	{"kaiser", CarrierKaiser},
	{"anthem", CarrierAnthem},
	{"medicare", CarrierMedicare},
	{"medicaid", CarrierMedicaid},
	{"tricare", CarrierTricare},
	{"self-pay", CarrierSelfPay},
	{"self pay", CarrierSelfPay},
	{"selfpay", CarrierSelfPay},
	{"cash", CarrierSelfPay},
	{"none", CarrierSelfPay},
}

// Normalize maps free-form carrier input to a recognized Carrier.
// The second return is false when no carrier matched.
func Normalize(input string) (Carrier, bool) {
	lowered := strings.ToLower(strings.TrimSpace(input))
	if lowered == "" {
		return "", false
	}
	for _, a := range aliases {
		if strings.Contains(lowered, a.key) {
			return a.carrier, true
		}
	}
	return "", false
}

type verifier struct{}

// NewVerifier returns the rule-table verifier.
func NewVerifier() Verifier {
	return verifier{}
}

func (verifier) Verify(carrier Carrier, memberID, groupID string) Result {
	if carrier == CarrierSelfPay {
		return Result{Verified: true}
	}
	if carrier == "" {
		return Result{Reason: "insurance carrier is required"}
	}

	memberID = strings.TrimSpace(memberID)
	groupID = strings.TrimSpace(groupID)

	rule, known := carrierRules[carrier]

	memberPattern := genericMemberID
	if known && rule.memberID != nil {
		memberPattern = rule.memberID
	}
	if !memberPattern.MatchString(memberID) {
		return Result{Reason: "invalid member ID format for " + string(carrier)}
	}

	if known && rule.groupRequired && groupID == "" {
		return Result{Reason: "group number is required for " + string(carrier)}
	}
	if known && rule.group != nil && groupID != "" && !rule.group.MatchString(groupID) {
		return Result{Reason: "invalid group number format for " + string(carrier)}
	}

	return Result{Verified: true}
}
