package window

import "github.com/veandco/go-sdl2/sdl"

// EventType classifies input events.
type EventType int

const (
	EventNone EventType = iota
	EventQuit
	EventResize
	EventKeyDown
	EventDrag
	EventZoom
	EventPick // right click at X, Y
)

// Event is a processed input event.
type Event struct {
	Type          EventType
	Key           sdl.Scancode
	Width, Height int
	DX, DY        float32
	X, Y          float32
}

// PollEvents drains the SDL queue. It reports false once the user asked to
// quit.
func (w *Window) PollEvents() ([]Event, bool) {
	w.events = w.events[:0]
	running := true

	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			w.events = append(w.events, Event{Type: EventQuit})
			running = false

		case *sdl.WindowEvent:
			if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				w.events = append(w.events, Event{Type: EventResize, Width: int(e.Data1), Height: int(e.Data2)})
			}

		case *sdl.KeyboardEvent:
			if e.Type == sdl.KEYDOWN && e.Repeat == 0 {
				if e.Keysym.Scancode == sdl.SCANCODE_ESCAPE {
					running = false
				}
				w.events = append(w.events, Event{Type: EventKeyDown, Key: e.Keysym.Scancode})
			}

		case *sdl.MouseButtonEvent:
			switch e.Button {
			case sdl.BUTTON_LEFT:
				w.dragging = e.Type == sdl.MOUSEBUTTONDOWN
			case sdl.BUTTON_RIGHT:
				if e.Type == sdl.MOUSEBUTTONDOWN {
					w.events = append(w.events, Event{Type: EventPick, X: float32(e.X), Y: float32(e.Y)})
				}
			}

		case *sdl.MouseMotionEvent:
			if w.dragging {
				w.events = append(w.events, Event{Type: EventDrag, DX: float32(e.XRel), DY: float32(e.YRel)})
			}

		case *sdl.MouseWheelEvent:
			w.events = append(w.events, Event{Type: EventZoom, DY: float32(e.Y)})
		}
	}
	return w.events, running
}

// KeyPressed reports whether key is held down right now.
func KeyPressed(key sdl.Scancode) bool {
	return sdl.GetKeyboardState()[key] != 0
}
