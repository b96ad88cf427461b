package quill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gookit/validate"
	"go.uber.org/zap"

	"github.com/eringen/quill/analytics"
)

const (
	defaultCategory = "general"
	postExt         = ".json"

	// timeLayout is fixed width so string order matches time order.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// PostIndexer keeps the relational post index in step with the documents.
type PostIndexer interface {
	IndexPost(ctx context.Context, entry analytics.PostIndexEntry) error
	UnindexPost(ctx context.Context, id string) error
	IndexedIDs(ctx context.Context) ([]string, error)
	RecountCategories(ctx context.Context) error
}

// PostRepository stores posts as JSON documents, one file per id.
type PostRepository struct {
	dir     string
	images  *ImageStore
	index   PostIndexer
	cache   *PostCache
	metrics *Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewPostRepository creates the documents directory if needed. cache and
// metrics may be nil.
func NewPostRepository(dir string, images *ImageStore, index PostIndexer, cache *PostCache, metrics *Metrics, logger *zap.Logger) (*PostRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blog dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostRepository{
		dir:     dir,
		images:  images,
		index:   index,
		cache:   cache,
		metrics: metrics,
		log:     logger.Named("posts"),
		now:     time.Now,
	}, nil
}

// Save creates or replaces the post and returns its id.
func (r *PostRepository) Save(ctx context.Context, in PostInput) (string, error) {
	if err := validatePostInput(&in); err != nil {
		return "", err
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now().UTC().Format(timeLayout)

	createdAt := in.CreatedAt
	if createdAt == "" {
		if prev, err := r.readDocument(id); err == nil && prev.CreatedAt != "" {
			createdAt = prev.CreatedAt
		} else {
			createdAt = now
		}
	}

	post := BlogPost{
		ID:        id,
		Title:     in.Title,
		Subtitle:  in.Subtitle,
		Content:   in.Content,
		Category:  normalizeCategory(in.Category),
		Tags:      in.Tags,
		Images:    r.processImages(ctx, id, in.Images),
		Published: in.Published,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	if post.Tags == nil {
		post.Tags = []string{}
	}

	data, err := json.MarshalIndent(post, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode post %s: %w", id, err)
	}
	if err := r.writeDocument(id, data); err != nil {
		return "", fmt.Errorf("write post %s: %w", id, err)
	}
	if info, err := os.Stat(r.path(id)); err == nil {
		r.cache.Set(id, info, data)
	} else {
		r.cache.Invalidate(id)
	}

	err = r.index.IndexPost(ctx, analytics.PostIndexEntry{
		ID:        id,
		Title:     post.Title,
		Category:  post.Category,
		CreatedAt: post.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("index post %s: %w", id, err)
	}

	r.metrics.PostSaved()
	r.log.Info("post saved",
		zap.String("id", id),
		zap.String("category", post.Category),
		zap.Int("images", len(post.Images)),
	)
	return id, nil
}

// Get returns the post stored under id.
func (r *PostRepository) Get(ctx context.Context, id string) (BlogPost, error) {
	if !validName(id) {
		return BlogPost{}, ErrNotFound
	}
	info, err := os.Stat(r.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		r.cache.Invalidate(id)
		return BlogPost{}, ErrNotFound
	}
	if err != nil {
		return BlogPost{}, fmt.Errorf("stat post %s: %w", id, err)
	}
	if data, ok := r.cache.Get(id, info); ok {
		if post, err := decodePost(id, data); err == nil {
			return post, nil
		}
	}

	f, err := os.Open(r.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return BlogPost{}, ErrNotFound
	}
	if err != nil {
		return BlogPost{}, fmt.Errorf("read post %s: %w", id, err)
	}
	defer f.Close()
	if info, err = f.Stat(); err != nil {
		return BlogPost{}, fmt.Errorf("stat post %s: %w", id, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return BlogPost{}, fmt.Errorf("read post %s: %w", id, err)
	}
	post, err := decodePost(id, data)
	if err != nil {
		return BlogPost{}, fmt.Errorf("decode post %s: %w", id, err)
	}
	r.cache.Set(id, info, data)
	return post, nil
}

// List returns every readable post, newest created_at first. Unreadable or
// corrupt documents are logged and skipped.
func (r *PostRepository) List(ctx context.Context) ([]BlogPost, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []BlogPost{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	posts := make([]BlogPost, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, postExt) {
			continue
		}
		id := strings.TrimSuffix(name, postExt)
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			r.log.Warn("skipping unreadable post", zap.String("file", name), zap.Error(err))
			continue
		}
		post, err := decodePost(id, data)
		if err != nil {
			r.log.Warn("skipping corrupt post", zap.String("file", name), zap.Error(err))
			continue
		}
		posts = append(posts, post)
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt > posts[j].CreatedAt
	})
	return posts, nil
}

// Delete removes the post and its index entry. A stale index entry is
// cleared even when the document is already gone.
func (r *PostRepository) Delete(ctx context.Context, id string) error {
	if !validName(id) {
		return ErrNotFound
	}
	err := os.Remove(r.path(id))
	r.cache.Invalidate(id)
	if errors.Is(err, fs.ErrNotExist) {
		if err := r.index.UnindexPost(ctx, id); err != nil {
			r.log.Warn("clearing stale index entry failed", zap.String("id", id), zap.Error(err))
		}
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	if err := r.index.UnindexPost(ctx, id); err != nil {
		return fmt.Errorf("unindex post %s: %w", id, err)
	}

	r.metrics.PostDeleted()
	r.log.Info("post deleted", zap.String("id", id))
	return nil
}

// ReindexResult summarizes a Reindex run.
type ReindexResult struct {
	Indexed int
	Removed int
}

// Reindex rebuilds the post index from the documents on disk: every live
// post is upserted, entries without a document are removed and all
// category counts are recomputed.
func (r *PostRepository) Reindex(ctx context.Context) (ReindexResult, error) {
	var res ReindexResult
	posts, err := r.List(ctx)
	if err != nil {
		return res, err
	}

	live := make(map[string]struct{}, len(posts))
	for _, p := range posts {
		live[p.ID] = struct{}{}
		err := r.index.IndexPost(ctx, analytics.PostIndexEntry{
			ID:        p.ID,
			Title:     p.Title,
			Category:  normalizeCategory(p.Category),
			CreatedAt: p.CreatedAt,
		})
		if err != nil {
			return res, fmt.Errorf("index post %s: %w", p.ID, err)
		}
		res.Indexed++
	}

	ids, err := r.index.IndexedIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("list indexed posts: %w", err)
	}
	for _, id := range ids {
		if _, ok := live[id]; ok {
			continue
		}
		if err := r.index.UnindexPost(ctx, id); err != nil {
			return res, fmt.Errorf("unindex post %s: %w", id, err)
		}
		res.Removed++
	}

	if err := r.index.RecountCategories(ctx); err != nil {
		return res, fmt.Errorf("recount categories: %w", err)
	}
	r.log.Info("reindex complete", zap.Int("indexed", res.Indexed), zap.Int("removed", res.Removed))
	return res, nil
}

// processImages converts inline uploads into stored references, keeps
// entries that already point at a stored image and drops the rest.
func (r *PostRepository) processImages(ctx context.Context, ownerID string, in []ImageInput) []ImageRef {
	out := make([]ImageRef, 0, len(in))
	for i, img := range in {
		switch {
		case strings.HasPrefix(img.Data, "data:image"):
			ref, err := r.images.DecodeAndStore(ctx, img.Data, ownerID)
			if err != nil {
				r.log.Warn("dropping image",
					zap.String("post", ownerID),
					zap.Int("index", i),
					zap.Error(err),
				)
				r.metrics.ImageDropped()
				continue
			}
			ref.ID = img.ID
			ref.Name = img.Name
			ref.Caption = img.Caption
			ref.Type = img.Type
			if ref.Type == "" {
				ref.Type = defaultImageType
			}
			out = append(out, ref)
			r.metrics.ImageStored()
		case img.Path != "":
			out = append(out, img.ImageRef)
		default:
			r.log.Debug("dropping image without data or path", zap.String("post", ownerID), zap.Int("index", i))
		}
	}
	return out
}

func (r *PostRepository) path(id string) string {
	return filepath.Join(r.dir, id+postExt)
}

func (r *PostRepository) readDocument(id string) (BlogPost, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		return BlogPost{}, err
	}
	return decodePost(id, data)
}

// writeDocument replaces the document atomically so readers never see a
// partial file.
func (r *PostRepository) writeDocument(id string, data []byte) error {
	tmp, err := os.CreateTemp(r.dir, "."+id+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), r.path(id))
}

func decodePost(id string, data []byte) (BlogPost, error) {
	var post BlogPost
	if err := json.Unmarshal(data, &post); err != nil {
		return BlogPost{}, err
	}
	post.ID = id
	if post.Tags == nil {
		post.Tags = []string{}
	}
	if post.Images == nil {
		post.Images = []ImageRef{}
	}
	return post, nil
}

func validatePostInput(in *PostInput) error {
	if in.ID != "" && !validName(in.ID) {
		return &ValidationError{Field: "id", Message: "id contains invalid characters"}
	}
	v := validate.Struct(in)
	if !v.Validate() {
		field := ""
		if strings.TrimSpace(in.Title) == "" {
			field = "title"
		} else if strings.TrimSpace(in.Content) == "" {
			field = "content"
		}
		return &ValidationError{Field: field, Message: v.Errors.One()}
	}
	if strings.TrimSpace(in.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if strings.TrimSpace(in.Content) == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	return nil
}

func normalizeCategory(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return defaultCategory
	}
	return c
}
