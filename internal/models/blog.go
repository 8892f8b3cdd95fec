package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Blog categories
const (
	BlogWeightLoss    = "Weight Loss"
	BlogMensHealth    = "Men's Health"
	BlogWomensHealth  = "Women's Health"
	BlogHairLoss      = "Hair Loss"
	BlogMoneySaving   = "Money Saving"
	BlogGeneralHealth = "General Health"
)

// BlogCategories lists the categories a post may be filed under
var BlogCategories = []string{
	BlogWeightLoss, BlogMensHealth, BlogWomensHealth, BlogHairLoss, BlogMoneySaving, BlogGeneralHealth,
}

const (
	DefaultBlogAuthor      = "PriceMyMeds Team"
	DefaultBlogImage       = "/images/blog-placeholder.jpg"
	MaxBlogExcerpt         = 300
	MaxBlogMetaDescription = 160
	blogWordsPerMinute     = 200
)

var blogSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// BlogPost is an article. Only published posts are visible to the public.
type BlogPost struct {
	ID              int64          `db:"id" json:"id"`
	Slug            string         `db:"slug" json:"slug"`
	Title           string         `db:"title" json:"title"`
	Excerpt         string         `db:"excerpt" json:"excerpt"`
	Content         string         `db:"content" json:"content,omitempty"`
	Author          string         `db:"author" json:"author"`
	Category        string         `db:"category" json:"category"`
	Tags            pq.StringArray `db:"tags" json:"tags"`
	FeaturedImage   string         `db:"featured_image" json:"featured_image"`
	MetaDescription string         `db:"meta_description" json:"meta_description"`
	MetaKeywords    pq.StringArray `db:"meta_keywords" json:"meta_keywords"`
	ReadTime        int            `db:"read_time" json:"read_time"`
	Published       bool           `db:"published" json:"published"`
	PublishDate     *time.Time     `db:"publish_date" json:"publish_date,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// BlogSlug derives a post slug from its title
func BlogSlug(title string) string {
	return strings.Trim(blogSlugRe.ReplaceAllString(strings.ToLower(title), "-"), "-")
}

// BlogReadTime estimates minutes to read content, never less than one
func BlogReadTime(content string) int {
	words := len(strings.Fields(content))
	minutes := (words + blogWordsPerMinute - 1) / blogWordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// IsBlogCategory reports whether c is one of BlogCategories
func IsBlogCategory(c string) bool {
	for _, known := range BlogCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Prepare fills derived fields before the post is saved
func (p *BlogPost) Prepare(now time.Time) {
	p.Slug = strings.ToLower(strings.TrimSpace(p.Slug))
	if p.Slug == "" {
		p.Slug = BlogSlug(p.Title)
	}
	if p.Author == "" {
		p.Author = DefaultBlogAuthor
	}
	if p.FeaturedImage == "" {
		p.FeaturedImage = DefaultBlogImage
	}
	if p.Tags == nil {
		p.Tags = pq.StringArray{}
	}
	if p.MetaKeywords == nil {
		p.MetaKeywords = pq.StringArray{}
	}
	p.ReadTime = BlogReadTime(p.Content)
	if p.Published && p.PublishDate == nil {
		published := now
		p.PublishDate = &published
	}
	p.UpdatedAt = now
}

// TogglePublished flips the published flag. The first publication sets the publish date.
func (p *BlogPost) TogglePublished(now time.Time) {
	p.Published = !p.Published
	if p.Published && p.PublishDate == nil {
		published := now
		p.PublishDate = &published
	}
	p.UpdatedAt = now
}
