package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JSONB marshals through Postgres jsonb columns.
type JSONB json.RawMessage

func (j *JSONB) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSONB value")
	}
	*j = append((*j)[0:0], bytes...)
	return nil
}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

func (JSONB) GormDataType() string {
	return "jsonb"
}

// Document is one row per (collection, doc_id) with the payload as jsonb.
type Document struct {
	ID         uint   `gorm:"primaryKey"`
	Collection string `gorm:"size:64;not null;uniqueIndex:idx_collection_doc"`
	DocID      string `gorm:"size:64;not null;uniqueIndex:idx_collection_doc"`
	Data       JSONB  `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Subdocument is one append-only entry in a document's subcollection.
type Subdocument struct {
	ID         string `gorm:"primaryKey;size:36"`
	Collection string `gorm:"size:64;not null;index:idx_subcollection"`
	DocID      string `gorm:"size:64;not null;index:idx_subcollection"`
	Subname    string `gorm:"size:64;not null;index:idx_subcollection"`
	Item       JSONB  `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time
}

// GormStore is the Postgres-backed DocumentStore.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func marshalDoc(data any) (JSONB, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return JSONB(raw), nil
}

func (s *GormStore) Create(ctx context.Context, collection, id string, data any) bool {
	raw, err := marshalDoc(data)
	if err != nil {
		log.Printf("[store] failed to marshal %s/%s: %v", collection, id, err)
		return false
	}
	doc := Document{Collection: collection, DocID: id, Data: raw}
	if err := s.DB.WithContext(ctx).Create(&doc).Error; err != nil {
		log.Printf("[store] failed to create %s/%s: %v", collection, id, err)
		return false
	}
	return true
}

func (s *GormStore) Get(ctx context.Context, collection, id string) json.RawMessage {
	var doc Document
	err := s.DB.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&doc).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[store] failed to get %s/%s: %v", collection, id, err)
		}
		return nil
	}
	return json.RawMessage(doc.Data)
}

func (s *GormStore) Update(ctx context.Context, collection, id string, data any) bool {
	raw, err := marshalDoc(data)
	if err != nil {
		log.Printf("[store] failed to marshal %s/%s: %v", collection, id, err)
		return false
	}
	// Upsert: the orchestrator may persist a duel the first write of which
	// failed, and must not lose the update.
	doc := Document{Collection: collection, DocID: id, Data: raw}
	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "doc_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		log.Printf("[store] failed to update %s/%s: %v", collection, id, err)
		return false
	}
	return true
}

func (s *GormStore) Delete(ctx context.Context, collection, id string) bool {
	err := s.DB.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Delete(&Document{}).Error
	if err != nil {
		log.Printf("[store] failed to delete %s/%s: %v", collection, id, err)
		return false
	}
	return true
}

func (s *GormStore) Query(ctx context.Context, collection string, filters []Filter) []json.RawMessage {
	q := s.DB.WithContext(ctx).Model(&Document{}).Where("collection = ?", collection)
	for _, f := range filters {
		if f.Op != "==" {
			log.Printf("[store] unsupported query operator %q on %s.%s, skipping filter", f.Op, collection, f.Field)
			continue
		}
		q = q.Where("data ->> ? = ?", f.Field, fmt.Sprint(f.Value))
	}

	var docs []Document
	if err := q.Find(&docs).Error; err != nil {
		log.Printf("[store] failed to query %s: %v", collection, err)
		return nil
	}

	results := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		results = append(results, json.RawMessage(doc.Data))
	}
	return results
}

func (s *GormStore) AddToSubcollection(ctx context.Context, collection, id, subname string, item any) string {
	raw, err := marshalDoc(item)
	if err != nil {
		log.Printf("[store] failed to marshal %s/%s/%s item: %v", collection, id, subname, err)
		return ""
	}
	sub := Subdocument{
		ID:         uuid.NewString(),
		Collection: collection,
		DocID:      id,
		Subname:    subname,
		Item:       raw,
	}
	if err := s.DB.WithContext(ctx).Create(&sub).Error; err != nil {
		log.Printf("[store] failed to append to %s/%s/%s: %v", collection, id, subname, err)
		return ""
	}
	return sub.ID
}

func (s *GormStore) GetSubcollection(ctx context.Context, collection, id, subname string) []json.RawMessage {
	var subs []Subdocument
	err := s.DB.WithContext(ctx).
		Where("collection = ? AND doc_id = ? AND subname = ?", collection, id, subname).
		Order("created_at ASC").
		Find(&subs).Error
	if err != nil {
		log.Printf("[store] failed to list %s/%s/%s: %v", collection, id, subname, err)
		return nil
	}

	items := make([]json.RawMessage, 0, len(subs))
	for _, sub := range subs {
		items = append(items, json.RawMessage(sub.Item))
	}
	return items
}
