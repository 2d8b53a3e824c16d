package log

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"
)

// Flaw renders a flaw error as a structured zerolog event. Non-flaw
// errors fall back to the plain Err field.
func Flaw(err error) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		flawErr := new(flaw.Flaw)
		if !errors.As(err, &flawErr) {
			e.Err(err)
			return
		}

		e.Dict(
			"error",
			zerolog.
				Dict().
				Str("message", flawErr.Inner).
				Str("type_name", flawErr.InnerType),
		)

		records := zerolog.Arr()
		for _, v := range flawErr.Records {
			if b, err := json.MarshalWithOption(v.Payload, json.UnorderedMap(), json.DisableNormalizeUTF8(), json.DisableHTMLEscape()); nil != err {
				records.Dict(zerolog.Dict().Str("function", v.Function).Str("payload_marshal_error", err.Error()))
			} else {
				records.Dict(zerolog.Dict().Str("function", v.Function).RawJSON("payload", b))
			}
		}
		e.Array("records", records)

		joined := zerolog.Arr()
		for _, v := range flawErr.JoinedErrors {
			d := zerolog.Dict().Str("message", v.Message).Str("type_name", v.TypeName)
			if st := v.CallerStackTrace; nil != st {
				d.Str("caller", fmt.Sprintf("%s:%d %s", st.File, st.Line, st.Function))
			}
			joined.Dict(d)
		}
		e.Array("joined_errors", joined)

		stackTraces := zerolog.Arr()
		for _, v := range flawErr.StackTrace {
			stackTraces.Dict(zerolog.Dict().Str("location", fmt.Sprintf("%s:%d", v.File, v.Line)).Str("function", v.Function))
		}
		e.Array("stack_traces", stackTraces)
	}
}
