package alerts

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "sync"

    "github.com/USSURATONCACHI/net-device-mapping/internal/detect"
)

type FileWriter struct {
    mu      sync.Mutex
    f       *os.File
    encoder *json.Encoder
}

func NewFileWriter(path string) (*FileWriter, error) {
    f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
    if err != nil {
        return nil, fmt.Errorf("open alert file: %w", err)
    }
    return &FileWriter{
        f:       f,
        encoder: json.NewEncoder(f),
    }, nil
}

func (w *FileWriter) Close() error {
    w.mu.Lock()
    defer w.mu.Unlock()
    if w.f == nil {
        return nil
    }
    err := w.f.Close()
    w.f = nil
    return err
}

func (w *FileWriter) Write(a detect.Alert) error {
    w.mu.Lock()
    defer w.mu.Unlock()

    if w.f == nil {
        return fmt.Errorf("alert writer closed")
    }

    if err := w.encoder.Encode(a); err != nil {
        return fmt.Errorf("encode alert: %w", err)
    }

    log.Printf("[ALERT] rule=%s type=%s comm=%s pid=%d uid=%d",
        a.RuleID, a.EventType, a.Event.Comm, a.Event.Pid, a.Event.Uid)

    return nil
}
