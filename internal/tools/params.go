package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/pkg/types"
)

// int64Param reads a required integer argument. JSON numbers arrive as
// float64; numeric strings are accepted too.
func int64Param(params map[string]interface{}, key string) (int64, error) {
	switch v := params[key].(type) {
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%s is required", key)
	default:
		return 0, fmt.Errorf("invalid %s: expected a number", key)
	}
}

// int64List reads a required array of integers
func int64List(params map[string]interface{}, key string) ([]int64, error) {
	raw, ok := params[key].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%s is required", key)
	}
	ids := make([]int64, 0, len(raw))
	for i, v := range raw {
		id, err := int64Param(map[string]interface{}{key: v}, key)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func requiredString(params map[string]interface{}, key string) (string, error) {
	s := stringParam(params, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// addresses parses a comma-separated RFC 5322 address list
func addresses(params map[string]interface{}, key string) ([]types.Address, error) {
	s := stringParam(params, key)
	if s == "" {
		return nil, nil
	}
	list, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	out := make([]types.Address, 0, len(list))
	for _, a := range list {
		out = append(out, types.Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out, nil
}

// lookupAccount resolves the required account_name argument
func lookupAccount(ctx context.Context, store *cache.Store, params map[string]interface{}) (int64, error) {
	name, err := requiredString(params, "account_name")
	if err != nil {
		return 0, err
	}
	return store.GetAccountID(ctx, name)
}

func taskResult(tasks ...*types.Task) map[string]interface{} {
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	result := map[string]interface{}{"task_ids": ids}
	if len(tasks) > 0 {
		result["batch_id"] = tasks[0].BatchID
	}
	return result
}
