package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard-api/domain"
)

// ErrNotFound is returned by Load when no board is stored for the user.
var ErrNotFound = errors.New("board not found")

// Store persists one board per user as an opaque blob.
type Store interface {
	Load(ctx context.Context, userID string) (domain.Board, error)
	Save(ctx context.Context, userID string, board domain.Board) error
}

const boardRowKey = "board"

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

// TableStore keeps boards in an Azure Storage table, one entity per user.
type TableStore struct {
	table tableClient
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, boardsTable string) (*TableStore, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(boardsTable)}, nil
}

// Azure Tables caps a string property at 64 KiB (32K UTF-16 units) and an
// entity at 1 MiB, so the encoded board is spread over numbered properties
// Data0..DataN with the count in Chunks. A UTF-8 chunk never has more UTF-16
// units than bytes.
const (
	chunkCountProperty = "Chunks"
	chunkProperty      = "Data"
	maxChunkBytes      = 32 * 1024
	maxEntityBytes     = 1 << 20
)

// ErrBoardTooLarge is returned by TableStore.Save when the encoded board does
// not fit in one table entity.
var ErrBoardTooLarge = errors.New("board exceeds table entity size limit")

func chunkName(i int) string {
	return chunkProperty + strconv.Itoa(i)
}

// splitChunks cuts data into pieces of at most size bytes, never inside a
// UTF-8 sequence.
func splitChunks(data string, size int) []string {
	chunks := make([]string, 0, len(data)/size+1)
	for len(data) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		chunks = append(chunks, data[:cut])
		data = data[cut:]
	}
	return append(chunks, data)
}

// entitySize is an upper bound of the stored entity size as the table
// service accounts for it: two bytes per UTF-16 unit plus property overhead.
func entitySize(userID string, chunks []string) int {
	size := 4 + 2*(len(userID)+len(boardRowKey))
	size += 8 + 2*len(chunkCountProperty) + 4
	for i, c := range chunks {
		size += 8 + 2*len(chunkName(i)) + 4 + 2*len(c)
	}
	return size
}

// Load fetches the board entity for the user.
func (s *TableStore) Load(ctx context.Context, userID string) (domain.Board, error) {
	resp, err := s.table.GetEntity(ctx, userID, boardRowKey, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return domain.Board{}, ErrNotFound
		}
		return domain.Board{}, err
	}
	var ent map[string]any
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Board{}, fmt.Errorf("decode board entity: %w", err)
	}
	count, ok := ent[chunkCountProperty].(float64)
	if !ok || count < 1 {
		return domain.Board{}, fmt.Errorf("board entity has no %s property", chunkCountProperty)
	}

	var data strings.Builder
	for i := 0; i < int(count); i++ {
		part, ok := ent[chunkName(i)].(string)
		if !ok {
			return domain.Board{}, fmt.Errorf("board entity is missing %s", chunkName(i))
		}
		data.WriteString(part)
	}
	return DecodeBoard([]byte(data.String()))
}

// Save replaces the board entity for the user. Chunks left over from a
// larger previous board are dropped by the replace.
func (s *TableStore) Save(ctx context.Context, userID string, board domain.Board) error {
	data, err := EncodeBoard(board)
	if err != nil {
		return err
	}
	chunks := splitChunks(string(data), maxChunkBytes)
	if size := entitySize(userID, chunks); size > maxEntityBytes {
		return fmt.Errorf("%w: %d bytes encoded, %d bytes as entity", ErrBoardTooLarge, len(data), size)
	}

	entity := map[string]any{
		"PartitionKey":     userID,
		"RowKey":           boardRowKey,
		chunkCountProperty: len(chunks),
	}
	for i, c := range chunks {
		entity[chunkName(i)] = c
	}
	payload, err := sonic.Marshal(entity)
	if err != nil {
		return err
	}
	_, err = s.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}
