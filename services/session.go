package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/CrowderSoup/email-collector/reorder"
)

// Outbound message types
const (
	MessageView   = "view"
	MessageDrag   = "drag"
	MessageNotice = "notice"
)

// Deliverer sends one message to the browser without blocking.
type Deliverer interface {
	Deliver(msg WebSocketMessage)
}

// Broadcaster fans a message out to every other open session.
type Broadcaster interface {
	Broadcast(msg WebSocketMessage, sender string)
}

// DragMessage mirrors one drag lifecycle event to the browser.
type DragMessage struct {
	State          string  `json:"state"`
	Source         string  `json:"source"`
	ID             int64   `json:"id"`
	TargetID       int64   `json:"targetId,omitempty"`
	Y              float64 `json:"y,omitempty"`
	SuppressScroll bool    `json:"suppressScroll,omitempty"`
	Haptic         bool    `json:"haptic,omitempty"`
}

type idPayload struct {
	ID int64 `json:"id"`
}

type dropPayload struct {
	DraggedID int64 `json:"draggedId"`
	TargetID  int64 `json:"targetId"`
}

type touchPayload struct {
	ID int64   `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type layoutPayload struct {
	Rects []reorder.Rect `json:"rects"`
}

type searchPayload struct {
	Query string `json:"query"`
}

// Session binds one browser connection to its own reorder engine. The browser
// forwards raw input and row bounds; the session pushes back every view change.
type Session struct {
	id     string
	engine *reorder.Engine
	layout *reorder.Layout
	out    Deliverer
}

// NewSession creates the session for client id. Orders it saves are announced
// to the other sessions through peers.
func NewSession(id string, store reorder.Store, cfg *Config, out Deliverer, peers Broadcaster) *Session {
	return newSession(id, store, out, peers, reorder.Config{
		Timeout:         cfg.ReorderTimeout,
		LongPress:       cfg.LongPress,
		ScrollThreshold: cfg.ScrollThreshold,
		Haptics:         cfg.Haptics,
	})
}

func newSession(id string, store reorder.Store, out Deliverer, peers Broadcaster, rc reorder.Config) *Session {
	layout := reorder.NewLayout()
	rc.HitTester = layout

	s := &Session{
		id:     id,
		engine: reorder.NewEngine(store, rc),
		layout: layout,
		out:    out,
	}

	s.engine.Subscribe(func(snap reorder.Snapshot) {
		s.out.Deliver(WebSocketMessage{Type: MessageView, Data: snap})
	})
	s.engine.OnNotice(func(n reorder.Notice) {
		s.out.Deliver(WebSocketMessage{Type: MessageNotice, Data: n})
	})
	s.engine.OnGesture(func(ev reorder.Event) {
		s.out.Deliver(WebSocketMessage{Type: MessageDrag, Data: DragMessage{
			State:          ev.Kind.String(),
			Source:         ev.Source.String(),
			ID:             ev.DraggedID,
			TargetID:       ev.TargetID,
			Y:              ev.Current.Y,
			SuppressScroll: ev.SuppressScroll,
			Haptic:         ev.Haptic,
		}})
	})
	if peers != nil {
		s.engine.OnPersisted(func() {
			peers.Broadcast(WebSocketMessage{Type: MessageChanged}, s.id)
		})
	}

	return s
}

// Engine exposes the session's engine.
func (s *Session) Engine() *reorder.Engine {
	return s.engine
}

// Start loads the collection and pushes the first view.
func (s *Session) Start(ctx context.Context) error {
	if err := s.engine.Load(ctx); err != nil {
		s.out.Deliver(WebSocketMessage{Type: MessageNotice, Data: reorder.Notice{
			Kind:        "load_failure",
			Message:     "Entries could not be loaded.",
			Dismissable: true,
		}})
		return err
	}
	return nil
}

// Resync reloads after storage changed elsewhere.
func (s *Session) Resync(ctx context.Context) {
	if err := s.engine.Resync(ctx); err != nil {
		log.Printf("Error resyncing session %s: %v", s.id, err)
	}
}

// Close abandons any gesture and waits for an outstanding submission.
func (s *Session) Close() {
	g := s.engine.Gestures()
	g.TouchCancel()
	g.DragEnd()
	s.engine.Wait()
}

// Handle dispatches one inbound browser message.
func (s *Session) Handle(ctx context.Context, msg InboundMessage) error {
	g := s.engine.Gestures()

	switch msg.Type {
	case "dragStart":
		var p idPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		g.DragStart(p.ID)

	case "dragOver":
		var p idPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		g.DragOver(p.ID)

	case "drop":
		var p dropPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		g.Drop(p.DraggedID, p.TargetID)

	case "dragEnd":
		g.DragEnd()

	case "touchStart":
		var p touchPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		g.TouchStart(p.ID, p.Y)

	case "touchMove":
		var p touchPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		g.TouchMove(p.Y)

	case "touchEnd":
		var p touchPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		g.TouchEnd(p.X, p.Y)

	case "touchCancel":
		g.TouchCancel()

	case "layout":
		var p layoutPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		s.layout.Update(p.Rects)

	case "search":
		var p searchPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		s.engine.SetQuery(p.Query)

	case "edit":
		var p idPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		s.engine.SetEditing(p.ID)

	case "editEnd":
		s.engine.SetEditing(0)

	case "refresh":
		return s.engine.Resync(ctx)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}

	return nil
}

func decode(msg InboundMessage, v any) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("%s message has no data", msg.Type)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
	}
	return nil
}
