package kvengine

import "github.com/dromara/carbon/v2"

// defaultNowMs is the module's single clock: every timestamp touch
// goes through carbon in UTC, the same "always go through carbon,
// always UTC" discipline teacher applies to every created_at/
// updated_at write (carbon.Now(carbon.UTC)...), converted to the
// epoch-ms wire format spec §3 requires instead of teacher's
// datetime string.
func defaultNowMs() int64 {
	return carbon.Now(carbon.UTC).TimestampMilli()
}
