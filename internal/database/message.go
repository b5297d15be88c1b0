package repository

import (
	"context"

	"ChatCore/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SaveMessages upserts the confirmed part of a conversation's log. Pending
// and failed entries are deliberately not persisted: they belong to the live
// session and are re-reconciled from server history on the next one.
func (m *MongoDB) SaveMessages(ctx context.Context, conversationID string, msgs []entity.Message) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)
	opts := options.Update().SetUpsert(true)

	for _, msg := range msgs {
		if msg.ID == "" || msg.State != entity.DeliveryConfirmed {
			continue
		}
		msg.ConversationID = conversationID
		filter := bson.D{{Key: "_id", Value: msg.ID}}
		update := bson.D{{Key: "$set", Value: msg}}
		if _, err := collection.UpdateOne(ctx, filter, update, opts); err != nil {
			return err
		}
	}
	return nil
}

// LoadMessages returns cached messages for a conversation ordered by
// creation time, newest page last.
func (m *MongoDB) LoadMessages(ctx context.Context, conversationID string, limit int) ([]entity.Message, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(messagesCollection)

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := collection.Find(ctx, bson.D{{Key: "conversation_id", Value: conversationID}}, opts)
	if err != nil {
		return nil, m.findError(err)
	}
	defer cursor.Close(ctx)

	var msgs []entity.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
