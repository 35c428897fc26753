// Package tokenest provides an approximate token count for a text fragment.
// The estimate is deliberately cheap: callers need a monotonic signal for
// deciding when to stop an agent, not an exact tokenizer match.
package tokenest

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Method selects the estimation strategy.
type Method string

const (
	MethodAccurateBPE Method = "accurate-bpe"
	MethodByteRatio    Method = "byte-ratio"
	MethodCharRatio    Method = "char-ratio"
)

// IsValid reports whether m is one of the known estimation methods.
func (m Method) IsValid() bool {
	switch m {
	case MethodAccurateBPE, MethodByteRatio, MethodCharRatio:
		return true
	}
	return false
}

var (
	bpeOnce sync.Once
	bpeEnc  *tiktoken.Tiktoken
	bpeErr  error
)

func bpeEncoding() (*tiktoken.Tiktoken, error) {
	bpeOnce.Do(func() {
		bpeEnc, bpeErr = tiktoken.GetEncoding("cl100k_base")
	})
	return bpeEnc, bpeErr
}

// Estimate returns a non-negative approximate token count for fragment
// using the given method. It is pure and performs no I/O beyond the
// one-time, process-wide load of the BPE vocabulary for accurate-bpe.
func Estimate(method Method, fragment string) int {
	switch method {
	case MethodAccurateBPE:
		if enc, err := bpeEncoding(); err == nil {
			return len(enc.Encode(fragment, nil, nil))
		}
		// Vocabulary unavailable (e.g. no network to fetch it) - degrade
		// to byte-ratio rather than fail the whole iteration.
		return byteRatio(fragment)
	case MethodCharRatio:
		return charRatio(fragment)
	case MethodByteRatio:
		fallthrough
	default:
		return byteRatio(fragment)
	}
}

func byteRatio(fragment string) int {
	return len(fragment) / 4
}

func charRatio(fragment string) int {
	return utf8.RuneCountInString(fragment) / 4
}
