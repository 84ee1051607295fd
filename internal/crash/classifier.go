package crash

import (
	"regexp"
	"strings"
)

// Signature is one recognizable crash marker in fuzzer output, tagged with
// the sanitizer (or engine) that emits it.
type Signature struct {
	Marker string
	Kind   string
}

// defaultSignatures enumerates the markers of the supported sanitizers.
// New sanitizers are added here, not in worker control flow.
var defaultSignatures = []Signature{
	{"ERROR: AddressSanitizer", "address"},
	{"ERROR: LeakSanitizer", "address"},
	{"ERROR: HWAddressSanitizer", "address"},
	{"heap-buffer-overflow", "address"},
	{"stack-buffer-overflow", "address"},
	{"heap-use-after-free", "address"},
	{"stack-use-after-return", "address"},
	{"ERROR: MemorySanitizer", "memory"},
	{"use-of-uninitialized-value", "memory"},
	{"UndefinedBehaviorSanitizer", "undefined"},
	{"runtime error:", "undefined"},
	{"ERROR: ThreadSanitizer", "thread"},
	{"libFuzzer: deadly signal", "engine"},
	{"libFuzzer: out-of-memory", "engine"},
	{"SUMMARY: libFuzzer", "engine"},
	{"== Java Exception:", "jvm"},
	{"uncaught exception", "jvm"},
	{"SEGV on unknown address", "address"},
}

// Classifier scans output lines for sanitizer-violation signatures.
type Classifier struct {
	signatures []Signature
}

func NewClassifier() *Classifier {
	return &Classifier{signatures: defaultSignatures}
}

// NewClassifierWith builds a classifier from a custom signature table.
func NewClassifierWith(signatures []Signature) *Classifier {
	return &Classifier{signatures: signatures}
}

// Match reports the first signature contained in the line, if any.
func (c *Classifier) Match(line string) (Signature, bool) {
	for _, sig := range c.signatures {
		if strings.Contains(line, sig.Marker) {
			return sig, true
		}
	}
	return Signature{}, false
}

// libFuzzer announces the reproducer it wrote for the failing input.
var reproducerPattern = regexp.MustCompile(`Test unit written to\s+(\S+)`)

// ReproducerPath extracts the reproducer file path the engine reported in
// this line, if it reported one.
func ReproducerPath(line string) (string, bool) {
	m := reproducerPattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}
