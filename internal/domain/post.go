package domain

import "time"

// Post is a user-authored entry on the feed.
type Post struct {
	ID           string
	AuthorID     string
	Body         string
	ImageURL     string
	LikeCount    int
	CommentCount int
	CreatedAt    time.Time
}

// Announcement is an admin-authored site-wide notice.
type Announcement struct {
	ID        string
	AuthorID  string
	Title     string
	Body      string
	CreatedAt time.Time
}
