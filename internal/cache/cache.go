// Package cache is the local key-value store for per-case seen counters and
// the crash-safe pending draft. It is best-effort: a broken cache degrades the
// experience, never the session.
package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterbourgon/diskv/v3"

	"github.com/emberwatch/ember/internal/models"
)

const (
	seenPrefix  = "seen-"
	draftKey    = "draft-pending"
	maxCacheMem = 256 * 1024
)

// Cache is a diskv-backed store keyed by case GUID.
type Cache struct {
	d *diskv.Diskv
}

// New opens (or creates) the cache rooted at dir.
func New(dir string) *Cache {
	return &Cache{d: diskv.New(diskv.Options{
		BasePath: dir,
		Transform: func(key string) []string {
			if i := strings.IndexByte(key, '-'); i > 0 {
				return []string{key[:i]}
			}
			return nil
		},
		CacheSizeMax: maxCacheMem,
	})}
}

// SeenCount returns the last recorded event count for a case.
func (c *Cache) SeenCount(caseGUID string) (int, bool) {
	data, err := c.d.Read(seenPrefix + caseGUID)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// PutSeenCount records the event count for a case, the baseline for the
// new-activity badge on the case list.
func (c *Cache) PutSeenCount(caseGUID string, count int) error {
	if err := c.d.Write(seenPrefix+caseGUID, []byte(strconv.Itoa(count))); err != nil {
		return fmt.Errorf("cache: write seen count: %w", err)
	}
	return nil
}

// ForgetCase drops the seen counter for a case, for when the case is deleted.
func (c *Cache) ForgetCase(caseGUID string) error {
	if err := c.d.Erase(seenPrefix + caseGUID); err != nil {
		return fmt.Errorf("cache: erase seen count: %w", err)
	}
	return nil
}

type draft struct {
	CaseGUID string       `json:"case"`
	Event    models.Event `json:"event"`
}

// PutPendingDraft stores an in-flight event draft. At most one draft is kept;
// a new one replaces it.
func (c *Cache) PutPendingDraft(caseGUID string, ev models.Event) error {
	data, err := json.Marshal(draft{CaseGUID: caseGUID, Event: ev})
	if err != nil {
		return fmt.Errorf("cache: marshal draft: %w", err)
	}
	if err := c.d.Write(draftKey, data); err != nil {
		return fmt.Errorf("cache: write draft: %w", err)
	}
	return nil
}

// PendingDraft loads the stored draft, if any.
func (c *Cache) PendingDraft() (string, models.Event, bool) {
	data, err := c.d.Read(draftKey)
	if err != nil {
		return "", models.Event{}, false
	}
	var d draft
	if err := json.Unmarshal(data, &d); err != nil {
		return "", models.Event{}, false
	}
	return d.CaseGUID, d.Event, true
}

// ClearPendingDraft removes the stored draft. Clearing an absent draft is not
// an error.
func (c *Cache) ClearPendingDraft() error {
	if !c.d.Has(draftKey) {
		return nil
	}
	if err := c.d.Erase(draftKey); err != nil {
		return fmt.Errorf("cache: erase draft: %w", err)
	}
	return nil
}
