package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type RecordType string

const (
	TypeArticle RecordType = "article"
	TypeImage   RecordType = "image"
	TypeChat    RecordType = "chat"
)

// ParseRecordType rejects anything outside the three known record types.
func ParseRecordType(s string) (RecordType, error) {
	switch t := RecordType(s); t {
	case TypeArticle, TypeImage, TypeChat:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

type ArticlePayload struct {
	Title      string
	Text       string
	URL        string
	Date       *time.Time
	ChunkID    int
	ChunkTotal int
}

type ImagePayload struct {
	ImageURL  string
	LocalPath string
	Caption   string
}

type ChatPayload struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Record is a stored embedding with exactly one typed payload.
// Type always names the populated payload; use the constructors.
type Record struct {
	ID      string
	Vector  []float32
	Type    RecordType
	Article *ArticlePayload
	Image   *ImagePayload
	Chat    *ChatPayload
}

func NewArticleRecord(id string, vec []float32, p ArticlePayload) Record {
	return Record{ID: id, Vector: vec, Type: TypeArticle, Article: &p}
}

func NewImageRecord(id string, vec []float32, p ImagePayload) Record {
	return Record{ID: id, Vector: vec, Type: TypeImage, Image: &p}
}

// NewChatRecord fills a zero timestamp with the current UTC time.
func NewChatRecord(id string, vec []float32, p ChatPayload) Record {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	return Record{ID: id, Vector: vec, Type: TypeChat, Chat: &p}
}

// Clone returns a deep copy sharing no vector or payload memory with r.
func (r Record) Clone() Record {
	out := r
	if r.Vector != nil {
		out.Vector = append([]float32(nil), r.Vector...)
	}
	if r.Article != nil {
		a := *r.Article
		if a.Date != nil {
			d := *a.Date
			a.Date = &d
		}
		out.Article = &a
	}
	if r.Image != nil {
		im := *r.Image
		out.Image = &im
	}
	if r.Chat != nil {
		c := *r.Chat
		out.Chat = &c
	}
	return out
}

// Validate checks that the discriminant matches the populated payload.
func (r Record) Validate() error {
	populated := 0
	for _, ok := range []bool{r.Article != nil, r.Image != nil, r.Chat != nil} {
		if ok {
			populated++
		}
	}
	if populated != 1 {
		return fmt.Errorf("%w: record %s has %d payloads", ErrInvalidRecord, r.ID, populated)
	}

	switch r.Type {
	case TypeArticle:
		if r.Article == nil {
			return fmt.Errorf("%w: article record %s without article payload", ErrInvalidRecord, r.ID)
		}
	case TypeImage:
		if r.Image == nil {
			return fmt.Errorf("%w: image record %s without image payload", ErrInvalidRecord, r.ID)
		}
	case TypeChat:
		if r.Chat == nil {
			return fmt.Errorf("%w: chat record %s without chat payload", ErrInvalidRecord, r.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, r.Type)
	}
	return nil
}

// Payload returns the flat key/value form used by JSON-backed stores.
func (r Record) Payload() map[string]any {
	m := map[string]any{"type": string(r.Type)}
	switch {
	case r.Article != nil:
		m["title"] = r.Article.Title
		m["text"] = r.Article.Text
		m["url"] = r.Article.URL
		if r.Article.Date != nil {
			m["date"] = r.Article.Date.UTC().Format(time.RFC3339)
		} else {
			m["date"] = nil
		}
		m["chunk_id"] = r.Article.ChunkID
		m["chunk_total"] = r.Article.ChunkTotal
	case r.Image != nil:
		m["image_url"] = r.Image.ImageURL
		m["local_path"] = r.Image.LocalPath
		m["caption"] = r.Image.Caption
	case r.Chat != nil:
		m["role"] = r.Chat.Role
		m["content"] = r.Chat.Content
		m["timestamp"] = r.Chat.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func (r Record) MarshalPayload() ([]byte, error) {
	return json.Marshal(r.Payload())
}

type flatPayload struct {
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	URL        string  `json:"url"`
	Date       *string `json:"date"`
	ChunkID    int     `json:"chunk_id"`
	ChunkTotal int     `json:"chunk_total"`
	ImageURL   string  `json:"image_url"`
	LocalPath  string  `json:"local_path"`
	Caption    string  `json:"caption"`
	Role       string  `json:"role"`
	Content    string  `json:"content"`
	Timestamp  string  `json:"timestamp"`
}

// DecodeRecord rebuilds a record from its JSON payload.
func DecodeRecord(id string, vec []float32, data []byte) (Record, error) {
	var p flatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Record{}, fmt.Errorf("decode payload %s: %w", id, err)
	}

	typ, err := ParseRecordType(p.Type)
	if err != nil {
		return Record{}, err
	}

	switch typ {
	case TypeArticle:
		a := ArticlePayload{
			Title:      p.Title,
			Text:       p.Text,
			URL:        p.URL,
			ChunkID:    p.ChunkID,
			ChunkTotal: p.ChunkTotal,
		}
		if p.Date != nil {
			if d, err := parseTimestamp(*p.Date); err == nil {
				a.Date = &d
			}
		}
		return Record{ID: id, Vector: vec, Type: typ, Article: &a}, nil
	case TypeImage:
		return Record{ID: id, Vector: vec, Type: typ, Image: &ImagePayload{
			ImageURL:  p.ImageURL,
			LocalPath: p.LocalPath,
			Caption:   p.Caption,
		}}, nil
	default:
		c := ChatPayload{Role: p.Role, Content: p.Content}
		if p.Timestamp != "" {
			// Unparseable timestamps stay zero rather than failing the whole record.
			c.Timestamp, _ = parseTimestamp(p.Timestamp)
		}
		return Record{ID: id, Vector: vec, Type: typ, Chat: &c}, nil
	}
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form some writers emit.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
}

type ScoredRecord struct {
	Record Record
	Score  float64
}

// ImageAsset is an image referenced by a document, already downloaded.
type ImageAsset struct {
	URL       string
	LocalPath string
}

// Document is a scraped article ready for ingestion.
type Document struct {
	URL    string
	Title  string
	Text   string
	Images []ImageAsset
}

type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type ImageHit struct {
	ImageURL  string `json:"image_url"`
	LocalPath string `json:"local_path"`
	Caption   string `json:"caption"`
}

// Answer is the orchestrator's result for one query.
type Answer struct {
	Text    string     `json:"answer"`
	Sources []Source   `json:"sources"`
	Images  []ImageHit `json:"images"`
	Context string     `json:"-"`
	Chats   []string   `json:"-"`

	// Passages holds the retrieved article chunk texts in rank order.
	Passages []string `json:"-"`
}
