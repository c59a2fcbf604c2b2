package classifier

import (
	"sync/atomic"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

const (
	encodingName = "cl100k_base"

	// first use downloads the BPE ranks unless TIKTOKEN_CACHE_DIR already holds them
	encodingLoadTimeout = 10 * time.Second
)

var enc atomic.Pointer[tiktoken.Tiktoken]

func loadEncoding() (*tiktoken.Tiktoken, error) {
	return tiktoken.GetEncoding(encodingName)
}

// WarmEncoding loads the token encoding, waiting at most timeout. It reports
// whether the encoding is ready. A load still running after timeout keeps
// going in the background and is picked up by TrimToTokens once it finishes.
func WarmEncoding(timeout time.Duration, log *zerolog.Logger) bool {
	return warmEncoding(loadEncoding, timeout, log)
}

func warmEncoding(load func() (*tiktoken.Tiktoken, error), timeout time.Duration, log *zerolog.Logger) bool {
	if enc.Load() != nil {
		return true
	}

	done := make(chan error, 1)
	go func() {
		e, err := load()
		if err == nil {
			enc.Store(e)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn().Err(err).Str("encoding", encodingName).
				Msg("token encoding unavailable, trimming context by byte estimate")
			return false
		}
		return true
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Str("encoding", encodingName).
			Msg("token encoding still loading, trimming context by byte estimate meanwhile")
		return false
	}
}

// TrimToTokens shortens text to at most max tokens. Until the encoding is
// loaded it falls back to roughly four bytes per token.
func TrimToTokens(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}

	e := enc.Load()
	if e == nil {
		return trimRunes(text, max*4)
	}
	tokens := e.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text
	}
	return e.Decode(tokens[:max])
}

func trimRunes(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
