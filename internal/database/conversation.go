package repository

import (
	"context"
	"errors"

	"ChatCore/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SaveConversation upserts cached conversation metadata by id.
func (m *MongoDB) SaveConversation(ctx context.Context, conv *entity.Conversation) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	filter := bson.D{{Key: "_id", Value: conv.ID}}
	update := bson.D{{Key: "$set", Value: conv}}
	opts := options.Update().SetUpsert(true)

	_, err = collection.UpdateOne(ctx, filter, update, opts)
	return err
}

// LoadConversation retrieves cached conversation metadata by id. Returns
// (nil, nil) when the conversation is not cached.
func (m *MongoDB) LoadConversation(ctx context.Context, id string) (*entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	var conv entity.Conversation
	err = collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, m.findError(err)
	}

	return &conv, nil
}

// ListConversations returns every cached conversation.
func (m *MongoDB) ListConversations(ctx context.Context) ([]entity.Conversation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(conversationsCollection)

	cursor, err := collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, m.findError(err)
	}
	defer cursor.Close(ctx)

	var convs []entity.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}
