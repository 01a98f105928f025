//go:build windows

package resetwatch

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

// Windows Event Log API
var (
	wevtapi          = syscall.NewLazyDLL("wevtapi.dll")
	procEvtSubscribe = wevtapi.NewProc("EvtSubscribe")
	procEvtClose     = wevtapi.NewProc("EvtClose")
	procEvtRender    = wevtapi.NewProc("EvtRender")
)

const (
	evtSubscribeToFutureEvents = 1
	evtSubscribeActionDeliver  = 1
	evtRenderEventXml          = 1
)

const resetQuery = "*[System[(EventID=4724)]]"

// EventCallback receives each observed reset event.
type EventCallback func(ev ResetEvent)

// Watcher is a push subscription to the local Security log. It only
// works on the DC itself; remote hosts use the Poller instead.
type Watcher struct {
	callback EventCallback

	mu      sync.Mutex
	handle  uintptr
	data    *callbackData
	running bool
}

// NewWatcher creates a watcher delivering events to callback.
func NewWatcher(callback EventCallback) *Watcher {
	return &Watcher{callback: callback}
}

// callbackData is pinned for the lifetime of the subscription so the
// Windows callback can reach the watcher.
type callbackData struct {
	watcher *Watcher
}

// Start subscribes to future 4724 events in the Security log.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	channel, err := syscall.UTF16PtrFromString("Security")
	if err != nil {
		return err
	}
	query, err := syscall.UTF16PtrFromString(resetQuery)
	if err != nil {
		return err
	}

	w.data = &callbackData{watcher: w}

	handle, _, callErr := procEvtSubscribe.Call(
		0, // local session
		0, // no signal event; callback delivery
		uintptr(unsafe.Pointer(channel)),
		uintptr(unsafe.Pointer(query)),
		0, // no bookmark
		uintptr(unsafe.Pointer(w.data)),
		syscall.NewCallback(eventCallback),
		uintptr(evtSubscribeToFutureEvents),
	)
	if handle == 0 {
		return fmt.Errorf("EvtSubscribe: %w", callErr)
	}

	w.handle = handle
	w.running = true
	log.Printf("[resetwatch] Subscribed to Security log for event 4724")
	return nil
}

// Stop closes the subscription.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	procEvtClose.Call(w.handle)
	w.handle = 0
	w.running = false
	log.Printf("[resetwatch] Subscription closed")
}

// IsRunning reports whether the subscription is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// eventCallback is invoked by Windows for each delivered event.
func eventCallback(action, userContext, event uintptr) uintptr {
	if action != evtSubscribeActionDeliver {
		return 0
	}

	data := (*callbackData)(unsafe.Pointer(userContext))
	if data == nil || data.watcher == nil {
		return 0
	}

	if ev, ok := renderResetEvent(event); ok && data.watcher.callback != nil {
		data.watcher.callback(ev)
	}
	return 0
}

// renderResetEvent renders the event XML and extracts the reset details.
func renderResetEvent(eventHandle uintptr) (ResetEvent, bool) {
	var bufferSize uint32 = 65536
	buffer := make([]uint16, bufferSize)
	var bufferUsed, propertyCount uint32

	ret, _, _ := procEvtRender.Call(
		0,
		eventHandle,
		uintptr(evtRenderEventXml),
		uintptr(bufferSize*2),
		uintptr(unsafe.Pointer(&buffer[0])),
		uintptr(unsafe.Pointer(&bufferUsed)),
		uintptr(unsafe.Pointer(&propertyCount)),
	)
	if ret == 0 {
		return ResetEvent{}, false
	}

	charCount := bufferUsed / 2
	if charCount > bufferSize {
		charCount = bufferSize
	}
	xml := syscall.UTF16ToString(buffer[:charCount])

	ev := ResetEvent{
		TargetAccount: extractEventData(xml, "TargetUserName"),
		Caller:        extractEventData(xml, "SubjectUserName"),
		At:            time.Now().UTC(),
	}

	var record uint64
	fmt.Sscanf(extractXMLValue(xml, "EventRecordID"), "%d", &record)
	ev.RecordID = record

	if ev.TargetAccount == "" {
		return ResetEvent{}, false
	}
	return ev, true
}

// extractEventData reads <Data Name='X'>value</Data> from the EventData block.
func extractEventData(xml, name string) string {
	for _, quote := range []string{"'", `"`} {
		marker := "Name=" + quote + name + quote
		i := strings.Index(xml, marker)
		if i < 0 {
			continue
		}
		rest := xml[i:]
		gt := strings.Index(rest, ">")
		if gt < 0 {
			continue
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, "</Data>")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end])
	}
	return ""
}

// extractXMLValue extracts the text content of a simple XML element.
func extractXMLValue(xml, tag string) string {
	openTag := "<" + tag
	closeTag := "</" + tag + ">"

	start := strings.Index(xml, openTag)
	if start < 0 {
		return ""
	}
	gt := strings.Index(xml[start:], ">")
	if gt < 0 {
		return ""
	}
	contentStart := start + gt + 1

	end := strings.Index(xml[contentStart:], closeTag)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(xml[contentStart : contentStart+end])
}
