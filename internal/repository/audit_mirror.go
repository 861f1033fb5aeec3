package repository

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/noah-isme/sma-assistant-api/internal/models"
	"github.com/noah-isme/sma-assistant-api/pkg/config"
)

// GenesisHash anchors the first line of a fresh mirror chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrChainBroken reports a mirror line whose hash does not match its predecessor.
var ErrChainBroken = errors.New("audit mirror hash chain broken")

// AuditMirror appends every audit row to a rotated JSON-lines file. Each line
// stores the hash of the previous line, so edits or deletions break the chain.
type AuditMirror struct {
	mu       sync.Mutex
	encoder  zapcore.Encoder
	out      io.Writer
	closer   io.Closer
	prevHash string
	now      func() time.Time
}

type mirrorLine struct {
	Entry    string `json:"entry"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// NewAuditMirror opens (or resumes) the mirror file described by cfg.
func NewAuditMirror(cfg config.AuditConfig) (*AuditMirror, error) {
	if cfg.MirrorPath == "" {
		return nil, errors.New("audit mirror path is empty")
	}

	prev := GenesisHash
	if f, err := os.Open(cfg.MirrorPath); err == nil {
		last, verr := LastAuditHash(f)
		_ = f.Close()
		if verr != nil {
			return nil, fmt.Errorf("resume audit mirror: %w", verr)
		}
		if last != "" {
			prev = last
		}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.MirrorPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return newAuditMirror(rotator, rotator, prev), nil
}

func newAuditMirror(w io.Writer, closer io.Closer, prevHash string) *AuditMirror {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey: "event",
		TimeKey:    "logged_at",
		LineEnding: zapcore.DefaultLineEnding,
		EncodeTime: zapcore.ISO8601TimeEncoder,
	}
	return &AuditMirror{
		encoder:  zapcore.NewJSONEncoder(encoderConfig),
		out:      w,
		closer:   closer,
		prevHash: prevHash,
		now:      time.Now,
	}
}

// Append writes entry as the next link of the chain.
func (m *AuditMirror) Append(entry *models.AuditLogEntry) error {
	canonical, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit mirror entry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hash := chainHash(m.prevHash, canonical)
	buf, err := m.encoder.EncodeEntry(
		zapcore.Entry{Level: zapcore.InfoLevel, Time: m.now(), Message: "assistant_audit"},
		[]zapcore.Field{
			zap.String("entry", string(canonical)),
			zap.String("prev_hash", m.prevHash),
			zap.String("hash", hash),
		},
	)
	if err != nil {
		return fmt.Errorf("encode audit mirror line: %w", err)
	}
	defer buf.Free()

	n, err := m.out.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("write audit mirror: %w", err)
	}
	if n != buf.Len() {
		return fmt.Errorf("write audit mirror: %w", io.ErrShortWrite)
	}
	// the chain only advances past lines that reached the file
	m.prevHash = hash
	return nil
}

// Close releases the underlying file.
func (m *AuditMirror) Close() error {
	if m == nil || m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// VerifyAuditChain walks a mirror file and returns the number of valid links.
// anchor is GenesisHash for the first file, or the last hash of the previous
// rotated file; an empty anchor is rejected.
func VerifyAuditChain(r io.Reader, anchor string) (int, error) {
	if anchor == "" {
		return 0, errors.New("audit mirror chain anchor is empty")
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	prev := anchor
	count := 0
	for scanner.Scan() {
		var line mirrorLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return count, fmt.Errorf("line %d: %w", count+1, err)
		}
		if line.PrevHash != prev {
			return count, fmt.Errorf("line %d: %w", count+1, ErrChainBroken)
		}
		if chainHash(line.PrevHash, []byte(line.Entry)) != line.Hash {
			return count, fmt.Errorf("line %d: %w", count+1, ErrChainBroken)
		}
		prev = line.Hash
		count++
	}
	return count, scanner.Err()
}

// LastAuditHash returns the hash of the final line in a mirror file, which
// anchors the verification of the file rotated after it.
func LastAuditHash(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	last := ""
	for scanner.Scan() {
		var line mirrorLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return "", err
		}
		last = line.Hash
	}
	return last, scanner.Err()
}

func chainHash(prev string, entry []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(prev))
	h.Write(entry)
	return hex.EncodeToString(h.Sum(nil))
}
