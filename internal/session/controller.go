// Package session implements the per-conversation state machine and the
// process-wide registry that routes backend events to it.
//
// Each Controller owns exactly one conversation: its transcript, processing
// flag, draft input, model selection, and token/cost accounting. At most one
// generation is in flight per session; a generation is opened by SendMessage
// and ends on stream completion, cancellation, or a stream error.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/joescharf/parley/internal/models"
	"github.com/joescharf/parley/internal/permission"
	"github.com/joescharf/parley/internal/stream"
)

// CheckpointGateway is the contract over the external git-backed checkpoint
// store. Create is best-effort from the controller's perspective.
type CheckpointGateway interface {
	Create(ctx context.Context, sessionID, message string) (string, error)
	Status(ctx context.Context, sessionID string) models.CheckpointStatus
	List(ctx context.Context, sessionID string) ([]models.Checkpoint, error)
	Restore(ctx context.Context, sessionID, hash string) error
}

// ArchiveGateway is the contract over external archived-conversation storage.
type ArchiveGateway interface {
	List(ctx context.Context, sessionID string) ([]models.ArchivedConversation, error)
	Load(ctx context.Context, sessionID, key string) ([]models.Message, error)
	Save(ctx context.Context, sessionID string, msgs []models.Message) (string, error)
}

// PermissionResponder forwards the user's permission decision to the backend
// whose tool execution is suspended on it. Responding with allowed=true is
// the only way a paused generation advances past a permission request.
type PermissionResponder interface {
	Respond(ctx context.Context, requestID string, allowed bool) error
}

// generation tracks one streaming response cycle. All fields are guarded by
// the owning controller's mutex.
type generation struct {
	seq       uint64
	cancelled bool
	cancel    context.CancelFunc

	// awaiting holds the id of the permission request the generation is
	// paused on, empty while streaming.
	awaiting string

	// assistantMsgID / thinkingMsgID identify the message the next delta of
	// that type coalesces into.
	assistantMsgID string
	thinkingMsgID  string

	// openTools maps tool name to the id of its pending tool message, so a
	// later permission request or result can be linked back to it.
	openTools map[string]string
}

// Config wires a controller's identity and collaborators. Gateways are
// injected rather than reached through ambient state so the controller is
// testable with fakes.
type Config struct {
	ID         string
	Name       string
	WorkingDir string
	Model      models.Model

	Checkpoints CheckpointGateway
	Archives    ArchiveGateway
	Policy      permission.PolicyStore
	Responder   PermissionResponder
	Source      stream.Source
	Logger      *slog.Logger
}

// Controller is the state machine for one session.
type Controller struct {
	mu sync.Mutex

	id         string
	name       string
	workingDir string
	model      models.Model

	processing bool
	// busy guards the asynchronous archive save/load window so a duplicate
	// invocation is rejected instead of racing.
	busy bool

	draft             string
	currentArchiveKey string
	totalCost         float64
	usage             models.TokenUsage

	genSeq uint64
	gen    *generation

	// requestMsgs maps a permission request id to the tool message whose
	// metadata transitions when the request resolves.
	requestMsgs map[string]string

	store       *MessageStore
	arbiter     *permission.Arbiter
	checkpoints CheckpointGateway
	archives    ArchiveGateway
	responder   PermissionResponder
	source      stream.Source
	logger      *slog.Logger
}

// NewController creates an idle controller for a new conversation.
func NewController(cfg Config) *Controller {
	if cfg.ID == "" {
		cfg.ID = newULID()
	}
	if cfg.Model == "" {
		cfg.Model = models.ModelDefault
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		id:          cfg.ID,
		name:        cfg.Name,
		workingDir:  cfg.WorkingDir,
		model:       cfg.Model,
		requestMsgs: make(map[string]string),
		store:       NewMessageStore(),
		arbiter:     permission.NewArbiter(cfg.Policy),
		checkpoints: cfg.Checkpoints,
		archives:    cfg.Archives,
		responder:   cfg.Responder,
		source:      cfg.Source,
		logger:      cfg.Logger,
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Name returns the session's display name.
func (c *Controller) Name() string { return c.name }

// WorkingDir returns the session's working directory.
func (c *Controller) WorkingDir() string { return c.workingDir }

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []models.Message { return c.store.Messages() }

// IsProcessing reports whether a generation is in flight.
func (c *Controller) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Model returns the currently selected model.
func (c *Controller) Model() models.Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// DraftInput returns the session's unsent input text.
func (c *Controller) DraftInput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraftInput stores unsent input text so it survives session switches.
func (c *Controller) SetDraftInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// Snapshot returns the session's UI-visible state.
func (c *Controller) Snapshot() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.Session{
		ID:                c.id,
		Name:              c.name,
		WorkingDir:        c.workingDir,
		Model:             c.model,
		IsProcessing:      c.processing,
		TotalCost:         c.totalCost,
		TokenUsage:        c.usage,
		DraftInput:        c.draft,
		CurrentArchiveKey: c.currentArchiveKey,
		MessageCount:      c.store.Len(),
	}
}

// SendMessage appends the user message, marks the session processing, clears
// the draft, requests a best-effort pre-message checkpoint, and opens a new
// generation. It fails with ErrInvalidState if the trimmed text is empty or a
// generation is already in flight.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("%w: empty message", models.ErrInvalidState)
	}

	c.mu.Lock()
	if c.processing || c.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: session is processing", models.ErrInvalidState)
	}
	c.store.Append(c.newMessage(models.MessageUser, trimmed))
	c.processing = true
	c.draft = ""
	c.genSeq++
	gen := &generation{seq: c.genSeq, openTools: make(map[string]string)}
	c.gen = gen
	history := c.store.Messages()
	model := c.model
	c.mu.Unlock()

	// Pre-message checkpoint is best-effort; failure never blocks sending.
	if c.checkpoints != nil {
		if _, err := c.checkpoints.Create(ctx, c.id, checkpointSubject(trimmed)); err != nil {
			c.logger.Warn("checkpoint creation failed",
				slog.String("session_id", c.id),
				slog.Any("error", err),
			)
		}
	}

	if c.source == nil {
		// Events for this generation arrive through the registry.
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := c.source.Open(streamCtx, stream.Request{
		SessionID: c.id,
		Model:     model,
		Messages:  history,
	})
	if err != nil {
		cancel()
		c.mu.Lock()
		if c.gen == gen {
			c.store.Append(c.newMessage(models.MessageError, fmt.Sprintf("failed to start generation: %v", err)))
			c.processing = false
			c.gen = nil
		}
		c.mu.Unlock()
		return fmt.Errorf("open stream: %w", err)
	}

	c.mu.Lock()
	gen.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		for ev := range ch {
			c.handleEvent(gen.seq, ev)
		}
	}()
	return nil
}

// StopProcess cooperatively cancels the active generation. Partial output
// already appended stays in the transcript; no messages are appended after
// the cancellation point. Calling it on an idle session is a no-op.
func (c *Controller) StopProcess() {
	c.mu.Lock()
	if !c.processing || c.gen == nil {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	gen.cancelled = true
	cancel := gen.cancel
	c.processing = false
	c.gen = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.Info("generation stopped", slog.String("session_id", c.id))
}

// UpdateModel changes the model for subsequent sends. It fails with
// ErrInvalidState while a generation is in flight.
func (c *Controller) UpdateModel(m models.Model) error {
	if !models.ValidModel(m) {
		return fmt.Errorf("%w: unknown model %q", models.ErrNotFound, m)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return fmt.Errorf("%w: cannot change model while processing", models.ErrInvalidState)
	}
	c.model = m
	return nil
}

// StartNewChat archives the current transcript (when non-empty) and resets
// the session to a fresh conversation. A failed archive save aborts the reset
// so no transcript is lost.
func (c *Controller) StartNewChat(ctx context.Context) error {
	c.mu.Lock()
	if c.processing || c.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: session is processing", models.ErrInvalidState)
	}
	if c.store.Len() == 0 {
		c.draft = ""
		c.currentArchiveKey = ""
		c.mu.Unlock()
		return nil
	}
	c.busy = true
	msgs := c.store.Messages()
	c.mu.Unlock()

	key, err := c.archives.Save(ctx, c.id, msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	c.store.Reset()
	c.draft = ""
	c.currentArchiveKey = ""
	c.requestMsgs = make(map[string]string)
	c.arbiter.Reset()
	c.logger.Info("conversation archived",
		slog.String("session_id", c.id),
		slog.String("archive_key", key),
	)
	return nil
}

// LoadArchivedConversation replaces the transcript wholesale with an archived
// one and records the archive key as current.
func (c *Controller) LoadArchivedConversation(ctx context.Context, key string) error {
	c.mu.Lock()
	if c.processing || c.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: session is processing", models.ErrInvalidState)
	}
	c.busy = true
	c.mu.Unlock()

	msgs, err := c.archives.Load(ctx, c.id, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	if err != nil {
		return fmt.Errorf("load archive %s: %w", key, err)
	}
	c.store.Replace(msgs)
	c.currentArchiveKey = key
	c.requestMsgs = make(map[string]string)
	c.arbiter.Reset()
	return nil
}

// ListArchives lists the session's archived conversations, newest first, with
// IsCurrent set on the entry matching the loaded archive key.
func (c *Controller) ListArchives(ctx context.Context) ([]models.ArchivedConversation, error) {
	entries, err := c.archives.List(ctx, c.id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	current := c.currentArchiveKey
	c.mu.Unlock()
	for i := range entries {
		entries[i].IsCurrent = current != "" && entries[i].Filename == current
	}
	return entries, nil
}

// CheckpointStatus reports whether the session's working directory supports
// checkpointing.
func (c *Controller) CheckpointStatus(ctx context.Context) models.CheckpointStatus {
	if c.checkpoints == nil {
		return models.CheckpointStatus{}
	}
	return c.checkpoints.Status(ctx, c.id)
}

// ListCheckpoints lists the session's checkpoints, newest first.
func (c *Controller) ListCheckpoints(ctx context.Context) ([]models.Checkpoint, error) {
	if c.checkpoints == nil {
		return nil, nil
	}
	return c.checkpoints.List(ctx, c.id)
}

// RestoreCheckpoint resets the working tree to the given checkpoint. The
// gateway stashes uncommitted changes rather than discarding them, and
// rejects a restore while another is in flight for the session.
func (c *Controller) RestoreCheckpoint(ctx context.Context, hash string) error {
	if c.checkpoints == nil {
		return fmt.Errorf("%w: checkpointing unavailable", models.ErrRestoreFailed)
	}
	return c.checkpoints.Restore(ctx, c.id, hash)
}

// RespondToPermission resolves an outstanding permission request, transitions
// the linked tool message's metadata exactly once, and forwards the decision
// so the suspended tool execution can resume (or abort, when denied).
func (c *Controller) RespondToPermission(ctx context.Context, requestID string, allowed, alwaysAllow bool) error {
	_, err := c.arbiter.Resolve(ctx, requestID, allowed, alwaysAllow)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrAlreadyResolved) {
			return err
		}
		// Resolved, but the durable rule could not be persisted.
		c.logger.Warn("allow-always rule not persisted",
			slog.String("request_id", requestID),
			slog.Any("error", err),
		)
	}

	c.mu.Lock()
	if msgID, ok := c.requestMsgs[requestID]; ok {
		c.store.UpdateMetadata(msgID, func(md *models.Metadata) {
			md.PendingPermission = false
			md.PermissionDenied = !allowed
		})
		delete(c.requestMsgs, requestID)
	}
	if c.gen != nil && c.gen.awaiting == requestID {
		c.gen.awaiting = ""
	}
	c.mu.Unlock()

	if c.responder != nil {
		if err := c.responder.Respond(ctx, requestID, allowed); err != nil {
			return fmt.Errorf("forward permission decision: %w", err)
		}
	}
	return nil
}

// OutstandingPermissions returns the session's unresolved permission requests.
func (c *Controller) OutstandingPermissions() []models.PermissionRequest {
	return c.arbiter.Outstanding()
}

// HandleEvent applies one backend event routed in from outside (registry
// path). Events belonging to a cancelled or completed generation are dropped.
func (c *Controller) HandleEvent(ev stream.Event) {
	c.mu.Lock()
	var seq uint64
	if c.gen != nil {
		seq = c.gen.seq
	}
	c.mu.Unlock()
	c.handleEvent(seq, ev)
}

func (c *Controller) handleEvent(seq uint64, ev stream.Event) {
	c.mu.Lock()
	gen := c.gen
	if gen == nil || gen.seq != seq || gen.cancelled {
		c.mu.Unlock()
		c.logger.Debug("dropping event for inactive generation",
			slog.String("session_id", c.id),
			slog.String("event", fmt.Sprintf("%T", ev)),
		)
		return
	}

	// While a permission request is unresolved the generation is paused: no
	// further appends for this session. Terminal events still end the
	// generation so a backend that abandons the suspended tool call cannot
	// wedge the session in processing forever.
	if gen.awaiting != "" {
		switch ev.(type) {
		case stream.StreamComplete, stream.StreamError:
		default:
			c.mu.Unlock()
			c.logger.Debug("dropping event while awaiting permission",
				slog.String("session_id", c.id),
				slog.String("request_id", gen.awaiting),
				slog.String("event", fmt.Sprintf("%T", ev)),
			)
			return
		}
	}

	var autoAllowID string

	switch ev := ev.(type) {
	case stream.UserEcho:
		// The user message was appended locally on send.

	case stream.AssistantDelta:
		c.appendDelta(gen, models.MessageAssistant, ev.Text)

	case stream.ThinkingDelta:
		c.appendDelta(gen, models.MessageThinking, ev.Text)

	case stream.ToolInvoked:
		m := c.newMessage(models.MessageTool, ev.Content)
		m.Metadata.ToolName = ev.ToolName
		c.store.Append(m)
		gen.openTools[ev.ToolName] = m.ID
		gen.assistantMsgID = ""
		gen.thinkingMsgID = ""

	case stream.ToolResult:
		m := c.newMessage(models.MessageToolResult, ev.Content)
		m.Metadata.ToolName = ev.ToolName
		m.Metadata.IsError = ev.IsError
		c.store.Append(m)
		delete(gen.openTools, ev.ToolName)

	case stream.PermissionRequested:
		req := models.PermissionRequest{ID: ev.RequestID, Tool: ev.Tool, Path: ev.Path}
		c.arbiter.Add(req)
		if c.arbiter.AutoAllowed(context.Background(), ev.Tool) {
			autoAllowID = ev.RequestID
			break
		}
		if toolMsgID, ok := gen.openTools[ev.Tool]; ok {
			c.store.UpdateMetadata(toolMsgID, func(md *models.Metadata) {
				md.PendingPermission = true
			})
			c.requestMsgs[ev.RequestID] = toolMsgID
		}
		m := c.newMessage(models.MessagePermissionRequest, fmt.Sprintf("Permission required to run %s", ev.Tool))
		m.Metadata.PermissionRequest = &req
		c.store.Append(m)
		gen.awaiting = ev.RequestID

	case stream.StreamComplete:
		c.usage.Add(ev.Usage)
		cost := ev.CostUSD
		if cost == 0 {
			cost = models.Cost(c.model, ev.Usage)
		}
		c.totalCost += cost
		if gen.assistantMsgID != "" {
			c.store.UpdateMetadata(gen.assistantMsgID, func(md *models.Metadata) {
				md.Tokens = &models.TokenCounts{Input: ev.Usage.InputTokens, Output: ev.Usage.OutputTokens}
			})
		}
		c.processing = false
		c.gen = nil

	case stream.StreamError:
		c.store.Append(c.newMessage(models.MessageError, ev.Message))
		c.processing = false
		c.gen = nil
		c.logger.Warn("stream error",
			slog.String("session_id", c.id),
			slog.String("message", ev.Message),
		)

	default:
		c.logger.Warn("unknown stream event",
			slog.String("session_id", c.id),
			slog.String("event", fmt.Sprintf("%T", ev)),
		)
	}
	c.mu.Unlock()

	if autoAllowID != "" {
		ctx := context.Background()
		if _, err := c.arbiter.Resolve(ctx, autoAllowID, true, false); err != nil {
			c.logger.Warn("auto-allow resolution failed", slog.Any("error", err))
			return
		}
		if c.responder != nil {
			_ = c.responder.Respond(ctx, autoAllowID, true)
		}
	}
}

// appendDelta coalesces consecutive deltas of one type into a single message,
// starting a fresh message whenever another message type interleaved.
func (c *Controller) appendDelta(gen *generation, typ models.MessageType, text string) {
	msgID := gen.assistantMsgID
	if typ == models.MessageThinking {
		msgID = gen.thinkingMsgID
	}
	if msgID != "" {
		if last, ok := c.store.Last(); ok && last.ID == msgID {
			c.store.AppendText(msgID, text)
			return
		}
	}
	m := c.newMessage(typ, text)
	c.store.Append(m)
	if typ == models.MessageThinking {
		gen.thinkingMsgID = m.ID
	} else {
		gen.assistantMsgID = m.ID
	}
}

func (c *Controller) newMessage(typ models.MessageType, content string) models.Message {
	return models.Message{
		ID:        newULID(),
		Type:      typ,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// checkpointSubject derives a short checkpoint commit subject from the
// message that triggered it.
func checkpointSubject(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	const maxLen = 72
	if len(line) > maxLen {
		cut := maxLen
		// Back up to a rune boundary so the subject stays valid UTF-8.
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut]
	}
	return line
}
