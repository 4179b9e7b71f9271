package policy

import (
	"errors"
	"fmt"
	"strings"
)

// Default rule values. These match the broker ACL shipped with the
// reference Mosquitto deployment.
const (
	DefaultSuperUser       = "admin"
	DefaultMonitorUser     = "dashboard"
	DefaultCommandPrefix   = "commands/"
	DefaultTelemetryPrefix = "telemetry/"
	DefaultPresenceLevel   = "status"

	// WildcardAll is the universal subscription pattern.
	WildcardAll = "#"
)

// Class is the access tier an identity falls into.
type Class int

// Identity classes, in rule evaluation order.
const (
	ClassSuper Class = iota
	ClassMonitor
	ClassRestricted
	ClassInvalid
)

// String returns the class name used in logs and status output.
func (c Class) String() string {
	switch c {
	case ClassSuper:
		return "super"
	case ClassMonitor:
		return "monitor"
	case ClassRestricted:
		return "restricted"
	default:
		return "invalid"
	}
}

// Verdict is the outcome of a policy evaluation.
// Reason is empty when Allowed is true.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Rules holds the identities and namespaces that make up the ACL mirror.
// The zero value is not usable; start from DefaultRules.
type Rules struct {
	SuperUser       string
	MonitorUser     string
	CommandPrefix   string
	TelemetryPrefix string
	PresenceLevel   string
}

// DefaultRules returns the rule set matching the reference broker ACL.
func DefaultRules() Rules {
	return Rules{
		SuperUser:       DefaultSuperUser,
		MonitorUser:     DefaultMonitorUser,
		CommandPrefix:   DefaultCommandPrefix,
		TelemetryPrefix: DefaultTelemetryPrefix,
		PresenceLevel:   DefaultPresenceLevel,
	}
}

// Validate reports configuration mistakes that would make Evaluate
// disagree with the broker.
func (r Rules) Validate() error {
	var errs []error
	if r.SuperUser == "" {
		errs = append(errs, errors.New("super user is required"))
	}
	if r.MonitorUser == "" {
		errs = append(errs, errors.New("monitor user is required"))
	}
	if r.SuperUser != "" && r.SuperUser == r.MonitorUser {
		errs = append(errs, errors.New("super user and monitor user must differ"))
	}
	for name, prefix := range map[string]string{
		"command prefix":   r.CommandPrefix,
		"telemetry prefix": r.TelemetryPrefix,
	} {
		switch {
		case prefix == "" || prefix == "/":
			errs = append(errs, fmt.Errorf("%s is required", name))
		case !strings.HasSuffix(prefix, "/"):
			errs = append(errs, fmt.Errorf("%s %q must end with /", name, prefix))
		case strings.ContainsAny(prefix, "+#"):
			errs = append(errs, fmt.Errorf("%s %q must not contain wildcards", name, prefix))
		}
	}
	if r.PresenceLevel == "" || strings.ContainsAny(r.PresenceLevel, "/+#") {
		errs = append(errs, fmt.Errorf("presence level %q must be a single topic level", r.PresenceLevel))
	}
	return errors.Join(errs...)
}

// Classify returns the access tier for identity.
func (r Rules) Classify(identity string) Class {
	switch {
	case identity == "" || strings.ContainsAny(identity, "/+#"):
		return ClassInvalid
	case identity == r.SuperUser:
		return ClassSuper
	case identity == r.MonitorUser:
		return ClassMonitor
	default:
		return ClassRestricted
	}
}

// TelemetryNamespace returns "telemetry/<identity>" without a trailing slash.
func (r Rules) TelemetryNamespace(identity string) string {
	return r.TelemetryPrefix + identity
}

// Evaluate decides whether identity may publish to topic.
//
// It never panics and always returns a verdict. Identities that are empty or
// contain topic separators or wildcards are refused outright: such a name
// would otherwise produce a namespace nested inside another identity's.
func (r Rules) Evaluate(identity, topic string) Verdict {
	switch r.Classify(identity) {
	case ClassSuper:
		return Verdict{Allowed: true}

	case ClassMonitor:
		if strings.HasPrefix(topic, r.CommandPrefix) {
			return Verdict{Allowed: true}
		}
		return Verdict{Reason: fmt.Sprintf(
			"identity %q may only publish to topics under %q", identity, r.CommandPrefix)}

	case ClassRestricted:
		ns := r.TelemetryNamespace(identity)
		if topic == ns || strings.HasPrefix(topic, ns+"/") {
			return Verdict{Allowed: true}
		}
		return Verdict{Reason: fmt.Sprintf(
			"identity %q may only publish to topics under %q", identity, ns)}

	default:
		return Verdict{Reason: fmt.Sprintf(
			"identity %q is not a valid publisher (empty or contains '/', '+' or '#')", identity)}
	}
}

// PresenceTopic returns the retained status topic for identity.
// It is the Last Will topic and the target of the online/offline presence
// messages, and it always lies inside the identity's publish namespace.
func (r Rules) PresenceTopic(identity string) string {
	if r.Classify(identity) == ClassMonitor {
		return r.CommandPrefix + identity + "/" + r.PresenceLevel
	}
	return r.TelemetryNamespace(identity) + "/" + r.PresenceLevel
}

// AutoSubscription returns the single pattern subscribed right after a
// session is established.
//
//	super-user  -> "#"
//	monitor     -> "telemetry/#"
//	other       -> "commands/<identity>/#"
func (r Rules) AutoSubscription(identity string) string {
	switch r.Classify(identity) {
	case ClassSuper:
		return WildcardAll
	case ClassMonitor:
		return r.TelemetryPrefix + WildcardAll
	default:
		return r.CommandPrefix + identity + "/" + WildcardAll
	}
}
