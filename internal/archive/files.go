// Package archive implements the archived-conversation gateway on the local
// filesystem. Each archive is one JSON file per session directory; the file
// name doubles as the archive key and embeds the snapshot timestamp with
// dashes in place of colons so keys stay filesystem-safe yet sort
// chronologically.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/parley/internal/models"
)

const (
	keyPrefix = "conversation-"
	keySuffix = ".json"
	// Timestamp layout inside a key: RFC3339 UTC with ':' replaced by '-'.
	keyTimeLayout = "2006-01-02T15-04-05Z"
)

// FileGateway stores archives under root/<sessionID>/.
type FileGateway struct {
	root string
	now  func() time.Time
}

// NewFileGateway creates a gateway rooted at the given directory.
func NewFileGateway(root string) *FileGateway {
	return &FileGateway{root: root, now: time.Now}
}

type archiveFile struct {
	SavedAt  time.Time        `json:"saved_at"`
	Messages []models.Message `json:"messages"`
}

func (g *FileGateway) sessionDir(sessionID string) string {
	return filepath.Join(g.root, sessionID)
}

// Save persists the transcript as a new archive and returns its key. It fails
// with ErrPersistFailed when the underlying store is unavailable; callers
// must not discard the transcript in that case.
func (g *FileGateway) Save(ctx context.Context, sessionID string, msgs []models.Message) (string, error) {
	dir := g.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create archive directory: %v", models.ErrPersistFailed, err)
	}

	ts := g.now().UTC()
	key := keyPrefix + ts.Format(keyTimeLayout) + keySuffix
	// Same-second snapshots get a numeric suffix to keep keys unique.
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, key)); os.IsNotExist(err) {
			break
		}
		key = fmt.Sprintf("%s%s-%d%s", keyPrefix, ts.Format(keyTimeLayout), n, keySuffix)
	}

	data, err := json.MarshalIndent(archiveFile{SavedAt: ts, Messages: msgs}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode archive: %v", models.ErrPersistFailed, err)
	}

	// Atomic write: temp file then rename, so a crash never leaves a
	// half-written archive behind.
	path := filepath.Join(dir, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write archive: %v", models.ErrPersistFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("%w: finalize archive: %v", models.ErrPersistFailed, err)
	}
	return key, nil
}

// Load returns the full message sequence of an archive. Unknown keys fail
// with ErrNotFound.
func (g *FileGateway) Load(ctx context.Context, sessionID, key string) ([]models.Message, error) {
	data, err := os.ReadFile(filepath.Join(g.sessionDir(sessionID), filepath.Base(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive %s: %w", key, models.ErrNotFound)
		}
		return nil, fmt.Errorf("read archive %s: %w", key, err)
	}
	var f archiveFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse archive %s: %w", key, err)
	}
	return f.Messages, nil
}

// List returns the session's archives ordered newest first. IsCurrent is left
// false; the session controller decorates it against its loaded archive key.
func (g *FileGateway) List(ctx context.Context, sessionID string) ([]models.ArchivedConversation, error) {
	entries, err := os.ReadDir(g.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list archives: %w", err)
	}

	var out []models.ArchivedConversation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), keyPrefix) || !strings.HasSuffix(entry.Name(), keySuffix) {
			continue
		}
		ts, err := KeyTimestamp(entry.Name())
		if err != nil {
			continue
		}
		msgs, err := g.Load(ctx, sessionID, entry.Name())
		if err != nil {
			continue
		}
		out = append(out, models.ArchivedConversation{
			Filename:     entry.Name(),
			Timestamp:    ts,
			MessageCount: len(msgs),
			FirstMessage: firstUserMessage(msgs),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Filename > out[j].Filename
	})
	return out, nil
}

// KeyTimestamp extracts the snapshot time embedded in an archive key,
// normalizing the filesystem-safe dashes back to colon-delimited ISO form.
func KeyTimestamp(key string) (time.Time, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), keySuffix)
	if len(name) < len(keyTimeLayout) {
		return time.Time{}, fmt.Errorf("archive key %q: no timestamp", key)
	}
	raw := name[:len(keyTimeLayout)]
	i := strings.IndexByte(raw, 'T')
	if i < 0 {
		return time.Time{}, fmt.Errorf("archive key %q: malformed timestamp", key)
	}
	iso := raw[:i] + strings.ReplaceAll(raw[i:], "-", ":")
	ts, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Time{}, fmt.Errorf("archive key %q: %w", key, err)
	}
	return ts, nil
}

// DisplayTimestamp renders an archive key's embedded time in RFC3339 for
// display. Malformed keys render as-is.
func DisplayTimestamp(key string) string {
	ts, err := KeyTimestamp(key)
	if err != nil {
		return key
	}
	return ts.UTC().Format(time.RFC3339)
}

func firstUserMessage(msgs []models.Message) string {
	for _, m := range msgs {
		if m.Type == models.MessageUser {
			return m.Content
		}
	}
	if len(msgs) > 0 {
		return msgs[0].Content
	}
	return ""
}
