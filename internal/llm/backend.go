package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
)

// Backend performs a single chat request against one model endpoint and
// returns one string per sample, in response order.
//
// Implementations report non-2xx responses as *StatusError and undecodable
// success bodies as *ResponseDecodeError; anything else is treated as a
// transport failure.
type Backend interface {
	// Name returns the provider name
	Name() string

	// Chat sends msgs with the merged params
	Chat(ctx context.Context, msgs []Message, params Params) ([]string, error)
}

// chatParams is the typed view of Params shared by all backends. Keys that
// a provider does not understand are ignored by that provider.
type chatParams struct {
	Temperature      *float64 `mapstructure:"temperature"`
	TopP             *float64 `mapstructure:"top_p"`
	TopK             int      `mapstructure:"top_k"`
	MaxTokens        int      `mapstructure:"max_tokens"`
	N                int      `mapstructure:"n"`
	Stop             []string `mapstructure:"stop"`
	Seed             *int     `mapstructure:"seed"`
	PresencePenalty  float64  `mapstructure:"presence_penalty"`
	FrequencyPenalty float64  `mapstructure:"frequency_penalty"`
}

func decodeParams(params Params) (chatParams, error) {
	var out chatParams
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(map[string]any(params)); err != nil {
		return out, err
	}
	if len(md.Unused) > 0 {
		zap.L().Debug("ignoring unsupported inference parameters", zap.Strings("keys", md.Unused))
	}
	if out.N <= 0 {
		out.N = 1
	}
	return out, nil
}

// samplesRequested reports the n the caller asked for.
func samplesRequested(params Params) int {
	p, err := decodeParams(params)
	if err != nil {
		return 1
	}
	return p.N
}

// isDecodeError reports whether err came from decoding a response body rather
// than from the transport.
func isDecodeError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
