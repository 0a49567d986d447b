package audit

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// VerifySequence checks that records are ordered by version starting at 1
// with no gaps or repeats.
func VerifySequence(records []*Record) error {
	for i, r := range records {
		want := int64(i + 1)
		if r.Version != want {
			return ErrBrokenSequence.WithTemplateData(map[string]string{
				"request_id": r.RequestID.String(),
				"expected":   fmt.Sprint(want),
				"got":        fmt.Sprint(r.Version),
			})
		}
	}
	return nil
}

// Replay folds the diffs of an ordered, gap-free trail into the latest
// snapshot. It returns {} for an empty trail.
func Replay(records []*Record) (json.RawMessage, error) {
	if err := VerifySequence(records); err != nil {
		return nil, err
	}
	doc := []byte("{}")
	for _, r := range records {
		patch, err := jsonpatch.DecodePatch(r.Diff)
		if err != nil {
			return nil, fmt.Errorf("audit: decode diff v%d: %w", r.Version, err)
		}
		doc, err = patch.Apply(doc)
		if err != nil {
			return nil, fmt.Errorf("audit: apply diff v%d: %w", r.Version, err)
		}
	}
	return doc, nil
}
