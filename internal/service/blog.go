package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"medprice-service/internal/models"
	"medprice-service/internal/store"
	"medprice-service/internal/util"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// BlogStore is the slice of the store behind the blog
type BlogStore interface {
	ListBlogPosts(ctx context.Context, f store.BlogFilter) ([]models.BlogPost, error)
	CountBlogPosts(ctx context.Context, f store.BlogFilter) (int64, error)
	GetBlogPost(ctx context.Context, id int64) (*models.BlogPost, error)
	GetBlogPostBySlug(ctx context.Context, slug string, publishedOnly bool) (*models.BlogPost, error)
	RelatedBlogPosts(ctx context.Context, p *models.BlogPost, limit int) ([]models.BlogPost, error)
	CreateBlogPost(ctx context.Context, p *models.BlogPost) error
	UpdateBlogPost(ctx context.Context, p *models.BlogPost) error
	DeleteBlogPost(ctx context.Context, id int64) error
}

const (
	blogPageLimit    = 10
	blogMaxPageLimit = 100
	relatedPostLimit = 3
	blogEntity       = "blog_post"
)

// BlogService publishes articles and manages drafts
type BlogService struct {
	store  BlogStore
	audit  *AuditLogger
	now    func() time.Time
	logger *zap.Logger
}

// NewBlogService creates a blog service
func NewBlogService(store BlogStore, audit *AuditLogger) *BlogService {
	return &BlogService{
		store:  store,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
		logger: util.ComponentLogger("blog"),
	}
}

// BlogQuery pages through published posts
type BlogQuery struct {
	Category string `form:"category"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

// BlogPage is one page of published posts
type BlogPage struct {
	Posts  []models.BlogPost `json:"posts"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// Published lists published posts newest first
func (s *BlogService) Published(ctx context.Context, q BlogQuery) (*BlogPage, error) {
	if q.Limit <= 0 {
		q.Limit = blogPageLimit
	}
	if q.Limit > blogMaxPageLimit {
		q.Limit = blogMaxPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	f := store.BlogFilter{Category: q.Category, PublishedOnly: true, Limit: q.Limit, Offset: q.Offset}
	posts, err := s.store.ListBlogPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountBlogPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	return &BlogPage{Posts: posts, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// BySlug returns a published post
func (s *BlogService) BySlug(ctx context.Context, slug string) (*models.BlogPost, error) {
	return s.store.GetBlogPostBySlug(ctx, strings.ToLower(slug), true)
}

// Related returns up to three published posts sharing the category or a tag of slug's post.
// The post itself need not be published.
func (s *BlogService) Related(ctx context.Context, slug string) ([]models.BlogPost, error) {
	post, err := s.store.GetBlogPostBySlug(ctx, strings.ToLower(slug), false)
	if err != nil {
		return nil, err
	}
	return s.store.RelatedBlogPosts(ctx, post, relatedPostLimit)
}

// List returns every post, drafts included, without content
func (s *BlogService) List(ctx context.Context) ([]models.BlogPost, error) {
	return s.store.ListBlogPosts(ctx, store.BlogFilter{})
}

// Get returns a post by id for editing
func (s *BlogService) Get(ctx context.Context, id int64) (*models.BlogPost, error) {
	return s.store.GetBlogPost(ctx, id)
}

// BlogPostRequest creates or replaces a post. An empty slug is derived from the title on
// create and left unchanged on update.
type BlogPostRequest struct {
	Slug            string     `json:"slug"`
	Title           string     `json:"title" binding:"required"`
	Excerpt         string     `json:"excerpt" binding:"required"`
	Content         string     `json:"content" binding:"required"`
	Category        string     `json:"category" binding:"required"`
	Tags            []string   `json:"tags"`
	FeaturedImage   string     `json:"featured_image"`
	MetaDescription string     `json:"meta_description" binding:"required"`
	MetaKeywords    []string   `json:"meta_keywords"`
	Published       *bool      `json:"published"`
	PublishDate     *time.Time `json:"publish_date"`
}

func (r *BlogPostRequest) applyTo(p *models.BlogPost, now time.Time) error {
	if !models.IsBlogCategory(r.Category) {
		return fmt.Errorf("%w: unknown blog category %q", ErrInvalidInput, r.Category)
	}
	p.Title = strings.TrimSpace(r.Title)
	p.Excerpt = strings.TrimSpace(r.Excerpt)
	p.Content = r.Content
	p.MetaDescription = strings.TrimSpace(r.MetaDescription)
	if p.Title == "" || p.Excerpt == "" || strings.TrimSpace(p.Content) == "" || p.MetaDescription == "" {
		return fmt.Errorf("%w: title, excerpt, content and meta description are required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(p.Excerpt) > models.MaxBlogExcerpt {
		return fmt.Errorf("%w: excerpt is longer than %d characters", ErrInvalidInput, models.MaxBlogExcerpt)
	}
	if utf8.RuneCountInString(p.MetaDescription) > models.MaxBlogMetaDescription {
		return fmt.Errorf("%w: meta description is longer than %d characters", ErrInvalidInput, models.MaxBlogMetaDescription)
	}

	if r.Slug != "" {
		p.Slug = r.Slug
	}
	p.Category = r.Category
	p.Tags = pq.StringArray(cleanLabels(r.Tags))
	p.MetaKeywords = pq.StringArray(cleanLabels(r.MetaKeywords))
	p.FeaturedImage = strings.TrimSpace(r.FeaturedImage)
	if r.Published != nil {
		p.Published = *r.Published
	}
	if r.PublishDate != nil {
		d := r.PublishDate.UTC()
		p.PublishDate = &d
	}

	p.Prepare(now)
	if p.Slug == "" {
		return fmt.Errorf("%w: title %q yields an empty slug", ErrInvalidInput, r.Title)
	}
	return nil
}

// Create adds a post authored by the acting admin
func (s *BlogService) Create(ctx context.Context, actor Actor, req *BlogPostRequest) (*models.BlogPost, error) {
	ctx, span := util.StartSpan(ctx, "BlogService.Create")
	defer span.End()

	now := s.now()
	post := &models.BlogPost{Author: actor.User, CreatedAt: now}
	if err := req.applyTo(post, now); err != nil {
		return nil, err
	}
	if err := s.store.CreateBlogPost(ctx, post); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Blog post created", zap.Int64("post_id", post.ID), zap.String("slug", post.Slug))
	s.audit.RecordAs(ctx, actor, blogEntity, strconv.FormatInt(post.ID, 10), &models.BlogPostCreateChanges{Created: *post})
	return post, nil
}

// Update replaces a post's fields
func (s *BlogService) Update(ctx context.Context, actor Actor, id int64, req *BlogPostRequest) (*models.BlogPost, error) {
	before, err := s.store.GetBlogPost(ctx, id)
	if err != nil {
		return nil, err
	}
	after := *before
	if err := req.applyTo(&after, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBlogPost(ctx, &after); err != nil {
		return nil, err
	}

	s.logger.Info("Blog post updated", zap.Int64("post_id", id), zap.String("user", actor.User))
	s.audit.RecordAs(ctx, actor, blogEntity, strconv.FormatInt(id, 10),
		&models.BlogPostUpdateChanges{Before: *before, After: after})
	return &after, nil
}

// Delete removes a post
func (s *BlogService) Delete(ctx context.Context, actor Actor, id int64) error {
	post, err := s.store.GetBlogPost(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBlogPost(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Blog post deleted", zap.Int64("post_id", id), zap.String("user", actor.User))
	s.audit.RecordAs(ctx, actor, blogEntity, strconv.FormatInt(id, 10),
		&models.BlogPostDeleteChanges{ID: id, Slug: post.Slug, Title: post.Title})
	return nil
}

// TogglePublish publishes a draft or withdraws a published post
func (s *BlogService) TogglePublish(ctx context.Context, actor Actor, id int64) (*models.BlogPost, error) {
	post, err := s.store.GetBlogPost(ctx, id)
	if err != nil {
		return nil, err
	}
	post.TogglePublished(s.now())
	if err := s.store.UpdateBlogPost(ctx, post); err != nil {
		return nil, err
	}

	s.logger.Info("Blog post publish state changed",
		zap.Int64("post_id", id),
		zap.Bool("published", post.Published),
		zap.String("user", actor.User))
	s.audit.RecordAs(ctx, actor, blogEntity, strconv.FormatInt(id, 10),
		&models.BlogPublishChanges{ID: id, Slug: post.Slug, Published: post.Published})
	return post, nil
}
