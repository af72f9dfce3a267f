package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

const queueAlreadyExists = "QueueAlreadyExists"

// EnsureTable creates the table if it does not exist yet.
func EnsureTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	_, err = svc.NewClient(name).CreateTable(ctx, nil)
	return ignoreExists(err, string(aztables.TableAlreadyExists))
}

// EnsureQueue creates the queue if it does not exist yet.
func EnsureQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	_, err = q.Create(ctx, nil)
	return ignoreExists(err, queueAlreadyExists)
}

func ignoreExists(err error, code string) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == code {
		return nil
	}
	return err
}
