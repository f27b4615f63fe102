// Package kv implements a Valkey/Redis-backed instance (spec section
// 4.2), the engine's one non-SQL backend: rows live as JSON string
// values, one key per row, ordered by their datetime column in a sorted set, so
// get_data's windowed reads are a ZRANGEBYSCORE rather than a table
// scan.
//
// Grounded in the teacher's registry idiom (instance.Register, same
// shape as dialect.RegisterDialect) but with no teacher precedent for
// the storage engine itself, since the teacher repo is SQL-only; the
// shape of a capability-described backend over a key/value store is
// instead drawn from the other_examples queue-backend interface
// (BackendCapabilities / QueueBackend), adapted from a job queue to a
// row store.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mrsm/internal/action"
	"mrsm/internal/dataframe"
	"mrsm/internal/dtype"
	instancepkg "mrsm/internal/instance"
	"mrsm/internal/merr"
	"mrsm/internal/pipe"
)

func init() {
	instancepkg.Register(instancepkg.FlavorKV, Open)
}

// Instance is the KV-backed implementation of instance.Instance.
type Instance struct {
	client *redis.Client
	exists *instancepkg.ExistsCache
}

// Open dials a Valkey/Redis endpoint given as a redis:// URL.
func Open(dsn string) (instancepkg.Instance, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: parse dsn: %w", err)
	}
	return &Instance{client: redis.NewClient(opts), exists: instancepkg.NewExistsCache(instancepkg.ExistsCacheTTL)}, nil
}

const pipesSetKey = "mrsm:_internal:pipes"

func pipeRegistryKey(k pipe.Keys) string {
	return fmt.Sprintf("mrsm:_internal:pipe:%s|%s|%s|%s", k.Connector, k.Metric, k.Location, k.Instance)
}

func rowKeyPrefix(target string) string {
	return "mrsm:row:" + target + ":"
}

func indexSetKey(target string) string {
	return "mrsm:idx:" + target
}

type registryAttributes struct {
	Columns    map[string]string   `json:"columns"`
	Indices    map[string][]string `json:"indices"`
	Dtypes     map[string]string   `json:"dtypes"`
	Target     string              `json:"target"`
	Parameters pipe.Parameters     `json:"parameters"`
}

func toAttributes(p *pipe.Pipe) registryAttributes {
	dtypes := make(map[string]string, len(p.Dtypes))
	for col, d := range p.Dtypes {
		dtypes[col] = d.String()
	}
	return registryAttributes{
		Columns: p.Columns, Indices: p.SynthesizeIndices(), Dtypes: dtypes,
		Target: p.DefaultTarget(), Parameters: p.Parameters,
	}
}

// RegisterPipe stores p's attributes; the "table" itself has no DDL
// equivalent in a KV store, so this is purely a registry write.
func (i *Instance) RegisterPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	blob, err := json.Marshal(toAttributes(p))
	if err != nil {
		return action.Result{}, fmt.Errorf("kv: marshal pipe attributes: %w", err)
	}
	key := pipeRegistryKey(p.Keys)
	if err := i.client.Set(ctx, key, blob, 0).Err(); err != nil {
		return action.Result{}, fmt.Errorf("kv: register pipe %s: %w", p.Keys, err)
	}
	if err := i.client.SAdd(ctx, pipesSetKey, key).Err(); err != nil {
		return action.Result{}, fmt.Errorf("kv: index pipe %s: %w", p.Keys, err)
	}
	i.exists.Invalidate(p.Keys)
	return action.Ok("registered %s", p.Keys), nil
}

// EditPipe overwrites p's stored attributes.
func (i *Instance) EditPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	return i.RegisterPipe(ctx, p)
}

// DeletePipe removes p's registry entry, not its rows.
func (i *Instance) DeletePipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	key := pipeRegistryKey(p.Keys)
	if err := i.client.Del(ctx, key).Err(); err != nil {
		return action.Result{}, fmt.Errorf("kv: delete pipe %s: %w", p.Keys, err)
	}
	if err := i.client.SRem(ctx, pipesSetKey, key).Err(); err != nil {
		return action.Result{}, fmt.Errorf("kv: unindex pipe %s: %w", p.Keys, err)
	}
	i.exists.Invalidate(p.Keys)
	return action.Ok("deleted %s", p.Keys), nil
}

// FetchPipesKeys scans the registry set, filtering in Go since Redis
// has no query language of its own for glob/tag matching.
func (i *Instance) FetchPipesKeys(ctx context.Context, filter action.Keys) ([]pipe.Keys, error) {
	members, err := i.client.SMembers(ctx, pipesSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: fetch pipes keys: %w", err)
	}
	sort.Strings(members)

	out := make([]pipe.Keys, 0, len(members))
	for _, m := range members {
		blob, err := i.client.Get(ctx, m).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("kv: fetch pipe attributes for %q: %w", m, err)
		}
		k, attrs, err := parseRegistryKeyBlob(m, blob)
		if err != nil {
			return nil, err
		}
		if !filter.Empty() {
			if !filter.MatchConnector(k.Connector) || !filter.MatchMetric(k.Metric) ||
				!filter.MatchLocation(k.Location) || !filter.MatchInstance(k.Instance) ||
				!filter.MatchTags(attrs.Parameters.Tags) {
				continue
			}
		}
		out = append(out, k)
	}
	return out, nil
}

func parseRegistryKeyBlob(redisKey, blob string) (pipe.Keys, registryAttributes, error) {
	parts := strings.SplitN(strings.TrimPrefix(redisKey, "mrsm:_internal:pipe:"), "|", 4)
	if len(parts) != 4 {
		return pipe.Keys{}, registryAttributes{}, fmt.Errorf("kv: malformed registry key %q", redisKey)
	}
	k := pipe.Keys{Connector: parts[0], Metric: parts[1], Location: parts[2], Instance: parts[3]}
	var attrs registryAttributes
	if err := json.Unmarshal([]byte(blob), &attrs); err != nil {
		return pipe.Keys{}, registryAttributes{}, fmt.Errorf("kv: unmarshal attributes for %q: %w", redisKey, err)
	}
	return k, attrs, nil
}

// FetchPipeParameters satisfies pipe.RegistryReader.
func (i *Instance) FetchPipeParameters(k pipe.Keys) (pipe.Parameters, error) {
	ctx := context.Background()
	blob, err := i.client.Get(ctx, pipeRegistryKey(k)).Result()
	if err == redis.Nil {
		return pipe.Parameters{}, fmt.Errorf("kv: pipe %s: %w", k, merr.ErrNotFound)
	}
	if err != nil {
		return pipe.Parameters{}, fmt.Errorf("kv: fetch pipe parameters: %w", err)
	}
	var attrs registryAttributes
	if err := json.Unmarshal([]byte(blob), &attrs); err != nil {
		return pipe.Parameters{}, fmt.Errorf("kv: unmarshal attributes: %w", err)
	}
	return attrs.Parameters, nil
}

// FetchPipe hydrates the full registered Pipe for k, satisfying
// instance.Instance.
func (i *Instance) FetchPipe(ctx context.Context, k pipe.Keys) (*pipe.Pipe, error) {
	blob, err := i.client.Get(ctx, pipeRegistryKey(k)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("kv: pipe %s: %w", k, merr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("kv: fetch pipe %s: %w", k, err)
	}
	var attrs registryAttributes
	if err := json.Unmarshal([]byte(blob), &attrs); err != nil {
		return nil, fmt.Errorf("kv: unmarshal attributes for %s: %w", k, err)
	}
	return fromAttributes(k, attrs)
}

func fromAttributes(k pipe.Keys, a registryAttributes) (*pipe.Pipe, error) {
	dtypes := make(map[string]dtype.Dtype, len(a.Dtypes))
	for col, raw := range a.Dtypes {
		d, err := dtype.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("kv: stored dtype of column %q: %w", col, err)
		}
		dtypes[col] = d
	}
	return &pipe.Pipe{
		Keys:       k,
		Columns:    a.Columns,
		Indices:    a.Indices,
		Dtypes:     dtypes,
		Target:     a.Target,
		Parameters: a.Parameters,
	}, nil
}

// PipeExists checks registry presence, cached per instance.ExistsCacheTTL.
func (i *Instance) PipeExists(ctx context.Context, p *pipe.Pipe) (bool, error) {
	return i.exists.Get(p.Keys, func() (bool, error) {
		n, err := i.client.Exists(ctx, pipeRegistryKey(p.Keys)).Result()
		return n > 0, err
	})
}

// GetColumnsTypes returns p's declared dtypes as-is: a KV store has no
// independent physical schema to introspect (spec section 4.1's
// "bytes -> explicit base64 text fallback for KV backends" implies the
// dtypes are whatever the pipe declares, not a catalog lookup).
func (i *Instance) GetColumnsTypes(_ context.Context, p *pipe.Pipe) (map[string]dtype.Dtype, error) {
	out := make(map[string]dtype.Dtype, len(p.Dtypes))
	for c, d := range p.Dtypes {
		out[c] = d
	}
	return out, nil
}

func rowMemberKey(target string, indexTuple string) string {
	return rowKeyPrefix(target) + indexTuple
}

// GetSyncTime reads the min/max score of the datetime-ordered sorted set.
func (i *Instance) GetSyncTime(ctx context.Context, p *pipe.Pipe, _ map[string]any, newest, remote bool) (*time.Time, error) {
	if remote {
		return nil, fmt.Errorf("kv: remote sync time requires a connector, not a storage instance: %w", merr.ErrConfiguration)
	}
	if _, ok := p.DatetimeColumn(); !ok {
		return nil, fmt.Errorf("kv: pipe %s has no datetime column: %w", p.Keys, merr.ErrConfiguration)
	}

	key := indexSetKey(p.DefaultTarget())
	var results []redis.Z
	var err error
	if newest {
		results, err = i.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	} else {
		results, err = i.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get sync time for %s: %w", p.Keys, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	t := time.UnixMilli(int64(results[0].Score)).UTC()
	return &t, nil
}

// GetRowcount counts members of the sorted set within [begin, end).
func (i *Instance) GetRowcount(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, _ map[string]any, remote bool) (int64, error) {
	if remote {
		return 0, fmt.Errorf("kv: remote rowcount requires a connector, not a storage instance: %w", merr.ErrConfiguration)
	}
	min, max := scoreRange(begin, end)
	return i.client.ZCount(ctx, indexSetKey(p.DefaultTarget()), min, max).Result()
}

func scoreRange(begin, end *time.Time) (string, string) {
	min := "-inf"
	max := "+inf"
	if begin != nil {
		min = strconv.FormatInt(begin.UnixMilli(), 10)
	}
	if end != nil {
		// half-open [begin, end): exclude the upper bound with "(".
		max = "(" + strconv.FormatInt(end.UnixMilli(), 10)
	}
	return min, max
}

// GetData reads every row key in the window, in order, and materializes them.
func (i *Instance) GetData(ctx context.Context, p *pipe.Pipe, opts instancepkg.GetDataOptions) (dataframe.Source, error) {
	min, max := scoreRange(opts.Begin, opts.End)
	indexKey := indexSetKey(p.DefaultTarget())

	var members []string
	var err error
	if strings.EqualFold(opts.Order, "desc") {
		members, err = i.client.ZRevRangeByScore(ctx, indexKey, &redis.ZRangeBy{Min: max, Max: min}).Result()
	} else {
		members, err = i.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{Min: min, Max: max}).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get data for %s: %w", p.Keys, err)
	}
	if opts.Limit > 0 && int64(len(members)) > opts.Limit {
		members = members[:opts.Limit]
	}
	if len(members) == 0 {
		return dataframe.NewSliceSource(dataframe.New(nil, nil)), nil
	}

	blobs, err := i.client.MGet(ctx, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: fetch rows for %s: %w", p.Keys, err)
	}

	var rows []dtype.Row
	for _, b := range blobs {
		s, ok := b.(string)
		if !ok {
			continue
		}
		var row dtype.Row
		if err := json.Unmarshal([]byte(s), &row); err != nil {
			return nil, fmt.Errorf("kv: unmarshal row: %w", err)
		}
		rows = append(rows, projectRow(row, opts))
	}
	return dataframe.NewSliceSource(dataframe.New(nil, rows)), nil
}

func projectRow(row dtype.Row, opts instancepkg.GetDataOptions) dtype.Row {
	if len(opts.Select) == 0 && len(opts.Omit) == 0 {
		return row
	}
	omit := make(map[string]bool, len(opts.Omit))
	for _, c := range opts.Omit {
		omit[c] = true
	}
	out := make(dtype.Row, len(row))
	if len(opts.Select) > 0 {
		for _, c := range opts.Select {
			if v, ok := row[c]; ok {
				out[c] = v
			}
		}
		return out
	}
	for c, v := range row {
		if !omit[c] {
			out[c] = v
		}
	}
	return out
}

// SyncPipe writes each row keyed by its index-tuple, scored by its
// datetime column in the target's sorted set. Writing the same
// index-tuple key twice overwrites in place, which is the KV
// backend's native upsert (spec section 4.2's sync_pipe contract).
func (i *Instance) SyncPipe(ctx context.Context, p *pipe.Pipe, batch dataframe.Batch) (action.Result, error) {
	if batch.Len() == 0 {
		return action.Ok("no rows to sync for %s", p.Keys), nil
	}

	target := p.DefaultTarget()
	indexKey := indexSetKey(target)
	dtCol, _ := p.DatetimeColumn()
	indexCols := p.IndexColumns()

	rp := i.client.Pipeline()
	for _, row := range batch.Rows {
		member := rowMemberKey(target, indexTupleKey(row, indexCols))
		blob, err := json.Marshal(row)
		if err != nil {
			return action.Result{}, fmt.Errorf("kv: marshal row: %w", err)
		}
		rp.Set(ctx, member, blob, 0)

		score := float64(0)
		if dtCol != "" {
			if t, ok := row[dtCol].(time.Time); ok {
				score = float64(t.UnixMilli())
			}
		}
		rp.ZAdd(ctx, indexKey, redis.Z{Score: score, Member: member})
	}
	if _, err := rp.Exec(ctx); err != nil {
		return action.Result{}, fmt.Errorf("kv: sync pipe %s: %w", p.Keys, err)
	}
	i.exists.Invalidate(p.Keys)
	return action.Ok("synced %d rows into %s", batch.Len(), p.Keys), nil
}

func indexTupleKey(row dtype.Row, indexCols []string) string {
	if len(indexCols) == 0 {
		// No declared indices: fall back to the full row's JSON as its
		// own identity, so distinct rows don't collide.
		blob, _ := json.Marshal(row)
		return string(blob)
	}
	parts := make([]string, len(indexCols))
	for i, c := range indexCols {
		parts[i] = fmt.Sprintf("%v", row[c])
	}
	return strings.Join(parts, "|")
}

// ClearPipe deletes rows in the window.
func (i *Instance) ClearPipe(ctx context.Context, p *pipe.Pipe, begin, end *time.Time, _ map[string]any) (action.Result, error) {
	indexKey := indexSetKey(p.DefaultTarget())
	min, max := scoreRange(begin, end)
	members, err := i.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return action.Result{}, fmt.Errorf("kv: clear pipe %s: %w", p.Keys, err)
	}
	if len(members) == 0 {
		return action.Ok("cleared 0 rows from %s", p.Keys), nil
	}
	rp := i.client.Pipeline()
	rp.Del(ctx, members...)
	rp.ZRem(ctx, indexKey, toAnySlice(members)...)
	if _, err := rp.Exec(ctx); err != nil {
		return action.Result{}, fmt.Errorf("kv: clear pipe %s: %w", p.Keys, err)
	}
	return action.Ok("cleared %d rows from %s", len(members), p.Keys), nil
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// DropPipe deletes every row plus the registry entry.
func (i *Instance) DropPipe(ctx context.Context, p *pipe.Pipe) (action.Result, error) {
	if _, err := i.ClearPipe(ctx, p, nil, nil, nil); err != nil {
		return action.Result{}, err
	}
	if err := i.client.Del(ctx, indexSetKey(p.DefaultTarget())).Err(); err != nil {
		return action.Result{}, fmt.Errorf("kv: drop index set for %s: %w", p.Keys, err)
	}
	return i.DeletePipe(ctx, p)
}

// DropIndices and CreateIndices are no-ops: the KV backend's only
// "index" is the datetime sorted set, which SyncPipe maintains
// unconditionally.
func (i *Instance) DropIndices(_ context.Context, p *pipe.Pipe) (action.Result, error) {
	return action.Ok("no-op: kv backend has no separate indices for %s", p.Keys), nil
}

func (i *Instance) CreateIndices(_ context.Context, p *pipe.Pipe) (action.Result, error) {
	return action.Ok("no-op: kv backend has no separate indices for %s", p.Keys), nil
}

var _ instancepkg.Instance = (*Instance)(nil)
