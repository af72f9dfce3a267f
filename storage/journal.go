package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard-api/domain"
)

// JournalEntry is one applied action as published to the journal queue.
type JournalEntry struct {
	UserID    string          `json:"userId"`
	Action    domain.Envelope `json:"action"`
	Timestamp int64           `json:"timestamp"`
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueJournal publishes applied actions to an Azure Storage queue for
// downstream consumers.
type QueueJournal struct {
	queue queueClient
}

// NewQueueJournal creates a journal writing to the named queue.
func NewQueueJournal(connStr, queueName string) (*QueueJournal, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &QueueJournal{queue: q}, nil
}

// Append sends the entries to the queue, one message per entry, in order.
func (j *QueueJournal) Append(ctx context.Context, userID string, entries []JournalEntry) error {
	for _, entry := range entries {
		entry.UserID = userID
		data, err := sonic.Marshal(entry)
		if err != nil {
			return err
		}
		if _, err := j.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
