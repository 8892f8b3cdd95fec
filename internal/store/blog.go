package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medprice-service/internal/models"
)

const blogColumns = `id, slug, title, excerpt, content, author, category, tags, featured_image, meta_description,
	meta_keywords, read_time, published, publish_date, created_at, updated_at`

// blogSummaryColumns leaves the body out of list views
const blogSummaryColumns = `id, slug, title, excerpt, '' AS content, author, category, tags, featured_image,
	meta_description, meta_keywords, read_time, published, publish_date, created_at, updated_at`

// BlogFilter selects blog posts for listing
type BlogFilter struct {
	Category      string
	PublishedOnly bool
	Limit         int
	Offset        int
}

func (f BlogFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.PublishedOnly {
		conds = append(conds, "published")
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListBlogPosts returns posts without their content. Published listings are ordered by
// publish date, admin listings by creation.
func (s *Store) ListBlogPosts(ctx context.Context, f BlogFilter) ([]models.BlogPost, error) {
	where, args := f.where()
	query := "SELECT " + blogSummaryColumns + " FROM blog_posts" + where
	if f.PublishedOnly {
		query += " ORDER BY publish_date DESC NULLS LAST, id DESC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	posts := []models.BlogPost{}
	if err := s.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list blog posts: %w", err)
	}
	return posts, nil
}

// CountBlogPosts counts the posts matching f, ignoring its paging
func (s *Store) CountBlogPosts(ctx context.Context, f BlogFilter) (int64, error) {
	where, args := f.where()
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM blog_posts"+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count blog posts: %w", err)
	}
	return n, nil
}

// GetBlogPost retrieves a post by id
func (s *Store) GetBlogPost(ctx context.Context, id int64) (*models.BlogPost, error) {
	return s.getBlogPost(ctx, "id = $1", id)
}

// GetBlogPostBySlug retrieves a post by slug, optionally only when published
func (s *Store) GetBlogPostBySlug(ctx context.Context, slug string, publishedOnly bool) (*models.BlogPost, error) {
	cond := "slug = $1"
	if publishedOnly {
		cond += " AND published"
	}
	return s.getBlogPost(ctx, cond, slug)
}

func (s *Store) getBlogPost(ctx context.Context, cond string, arg interface{}) (*models.BlogPost, error) {
	var p models.BlogPost
	err := s.db.GetContext(ctx, &p, "SELECT "+blogColumns+" FROM blog_posts WHERE "+cond, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blog post: %w", err)
	}
	return &p, nil
}

// RelatedBlogPosts returns published posts other than p sharing its category or a tag, newest first
func (s *Store) RelatedBlogPosts(ctx context.Context, p *models.BlogPost, limit int) ([]models.BlogPost, error) {
	posts := []models.BlogPost{}
	err := s.db.SelectContext(ctx, &posts,
		`SELECT `+blogSummaryColumns+` FROM blog_posts
		 WHERE id <> $1 AND published AND (category = $2 OR tags && $3)
		 ORDER BY publish_date DESC NULLS LAST, id DESC
		 LIMIT $4`,
		p.ID, p.Category, p.Tags, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list related posts: %w", err)
	}
	return posts, nil
}

// CreateBlogPost inserts a post and sets its id. A taken slug yields ErrDuplicate.
func (s *Store) CreateBlogPost(ctx context.Context, p *models.BlogPost) error {
	err := s.db.GetContext(ctx, &p.ID,
		`INSERT INTO blog_posts (slug, title, excerpt, content, author, category, tags, featured_image,
		                         meta_description, meta_keywords, read_time, published, publish_date,
		                         created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		p.Slug, p.Title, p.Excerpt, p.Content, p.Author, p.Category, p.Tags, p.FeaturedImage,
		p.MetaDescription, p.MetaKeywords, p.ReadTime, p.Published, p.PublishDate, p.CreatedAt, p.UpdatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("blog post %s: %w", p.Slug, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create blog post: %w", err)
	}
	return nil
}

// UpdateBlogPost overwrites every mutable field of a post
func (s *Store) UpdateBlogPost(ctx context.Context, p *models.BlogPost) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE blog_posts
		 SET slug = $2, title = $3, excerpt = $4, content = $5, author = $6, category = $7, tags = $8,
		     featured_image = $9, meta_description = $10, meta_keywords = $11, read_time = $12,
		     published = $13, publish_date = $14, updated_at = $15
		 WHERE id = $1`,
		p.ID, p.Slug, p.Title, p.Excerpt, p.Content, p.Author, p.Category, p.Tags, p.FeaturedImage,
		p.MetaDescription, p.MetaKeywords, p.ReadTime, p.Published, p.PublishDate, p.UpdatedAt)
	if IsUniqueViolation(err) {
		return fmt.Errorf("blog post %s: %w", p.Slug, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update blog post: %w", err)
	}
	return requireAffected(res)
}

// DeleteBlogPost removes a post
func (s *Store) DeleteBlogPost(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM blog_posts WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete blog post: %w", err)
	}
	return requireAffected(res)
}
