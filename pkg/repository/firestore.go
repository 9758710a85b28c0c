package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionChunks        = "chunks"
	collectionConversations = "conversations"
	collectionMessages      = "messages"

	distanceField = "distance"
)

// Firestore is a Repository on Cloud Firestore. Chunk search uses FindNearest,
// which requires a vector index on chunks.embedding.
type Firestore struct {
	client *firestore.Client
}

var _ Repository = (*Firestore)(nil)

type chunkDoc struct {
	ID        string             `firestore:"id"`
	Source    string             `firestore:"source"`
	Index     int                `firestore:"chunk_index"`
	Content   string             `firestore:"content"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	Metadata  map[string]any     `firestore:"metadata"`
	CreatedAt time.Time          `firestore:"created_at"`
	Distance  float64            `firestore:"distance,omitempty"`
}

type conversationDoc struct {
	ID        string    `firestore:"id"`
	Title     string    `firestore:"title"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type recordDoc struct {
	ID             string    `firestore:"id"`
	ConversationID string    `firestore:"conversation_id"`
	Role           string    `firestore:"role"`
	Content        string    `firestore:"content"`
	CreatedAt      time.Time `firestore:"created_at"`
}

// NewFirestore creates a Firestore repository for the given project and database
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project ID is required")
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{client: client}, nil
}

func (r *Firestore) PutChunks(ctx context.Context, chunks []*model.Chunk) error {
	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(chunks))

	for _, c := range chunks {
		if c.ID == "" {
			bw.End()
			return goerr.New("chunk ID is required", goerr.V("source", c.Source))
		}
		doc := &chunkDoc{
			ID:        string(c.ID),
			Source:    c.Source,
			Index:     c.Index,
			Content:   c.Content,
			Embedding: firestore.Vector32(c.Embedding),
			Metadata:  c.Metadata,
			CreatedAt: c.CreatedAt,
		}
		job, err := bw.Set(r.client.Collection(collectionChunks).Doc(string(c.ID)), doc)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue chunk", goerr.V("id", c.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write chunk", goerr.V("id", chunks[i].ID))
		}
	}
	return nil
}

func (r *Firestore) SearchChunks(ctx context.Context, embedding []float32, limit int) ([]*model.Chunk, error) {
	query := r.client.Collection(collectionChunks).FindNearest(
		"embedding",
		firestore.Vector32(embedding),
		normalizeLimit(limit),
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField},
	)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var result []*model.Chunk
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search chunks")
		}

		var d chunkDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode chunk", goerr.V("id", doc.Ref.ID))
		}
		result = append(result, &model.Chunk{
			ID:        model.ChunkID(d.ID),
			Source:    d.Source,
			Index:     d.Index,
			Content:   d.Content,
			Embedding: []float32(d.Embedding),
			Metadata:  d.Metadata,
			CreatedAt: d.CreatedAt,
			Distance:  d.Distance,
		})
	}

	return result, nil
}

func (r *Firestore) CountChunks(ctx context.Context) (int, error) {
	res, err := r.client.Collection(collectionChunks).NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count chunks")
	}

	v, ok := res["count"].(*firestorepb.Value)
	if !ok {
		return 0, goerr.New("unexpected count result", goerr.V("result", res))
	}
	return int(v.GetIntegerValue()), nil
}

func (r *Firestore) PutConversation(ctx context.Context, conv *model.Conversation) error {
	doc := &conversationDoc{
		ID:        string(conv.ID),
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	if _, err := r.client.Collection(collectionConversations).Doc(string(conv.ID)).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put conversation", goerr.V("id", conv.ID))
	}
	return nil
}

func (r *Firestore) GetConversation(ctx context.Context, id model.ConversationID) (*model.Conversation, error) {
	snap, err := r.client.Collection(collectionConversations).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "conversation not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get conversation", goerr.V("id", id))
	}

	var d conversationDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode conversation", goerr.V("id", id))
	}
	return d.toModel(), nil
}

func (d *conversationDoc) toModel() *model.Conversation {
	return &model.Conversation{
		ID:        model.ConversationID(d.ID),
		Title:     d.Title,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (r *Firestore) ListConversations(ctx context.Context, offset, limit int) ([]*model.Conversation, error) {
	iter := r.client.Collection(collectionConversations).
		OrderBy("created_at", firestore.Desc).
		Offset(offset).
		Limit(normalizeLimit(limit)).
		Documents(ctx)
	defer iter.Stop()

	result := []*model.Conversation{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list conversations")
		}

		var d conversationDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode conversation", goerr.V("id", doc.Ref.ID))
		}
		result = append(result, d.toModel())
	}
	return result, nil
}

// Records are stored under conversations/<id>/messages so listing them needs no composite index
func (r *Firestore) messages(id model.ConversationID) *firestore.CollectionRef {
	return r.client.Collection(collectionConversations).Doc(string(id)).Collection(collectionMessages)
}

func (r *Firestore) PutRecord(ctx context.Context, record *model.Record) error {
	doc := &recordDoc{
		ID:             string(record.ID),
		ConversationID: string(record.ConversationID),
		Role:           string(record.Role),
		Content:        record.Content,
		CreatedAt:      record.CreatedAt,
	}
	if _, err := r.messages(record.ConversationID).Doc(string(record.ID)).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put record", goerr.V("id", record.ID))
	}
	return nil
}

func (r *Firestore) ListRecords(ctx context.Context, id model.ConversationID, limit int) ([]*model.Record, error) {
	iter := r.messages(id).
		OrderBy("created_at", firestore.Asc).
		Limit(normalizeLimit(limit)).
		Documents(ctx)
	defer iter.Stop()

	result := []*model.Record{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list records", goerr.V("conversation_id", id))
		}

		var d recordDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to decode record", goerr.V("id", doc.Ref.ID))
		}
		result = append(result, &model.Record{
			ID:             model.RecordID(d.ID),
			ConversationID: model.ConversationID(d.ConversationID),
			Role:           model.Role(d.Role),
			Content:        d.Content,
			CreatedAt:      d.CreatedAt,
		})
	}
	return result, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}
