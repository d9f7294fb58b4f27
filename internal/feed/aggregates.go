package feed

import (
	"slices"
	"unicode/utf8"

	"bilimshare/internal/models"
)

const (
	// PopularLimit is the number of posts in the popular list.
	PopularLimit = 5
	// LeaderboardLimit is the number of users on the leaderboard.
	LeaderboardLimit = 8
	// ExcerptLength is the rune length of post previews.
	ExcerptLength = 200
)

// DefaultCategories are the school subjects always offered as facets, in display order.
var DefaultCategories = []string{
	"Математика", "Физика", "Химия", "Биология",
	"История", "География", "Информатика",
	"Қазақ тілі", "Ағылшын тілі", "Әдебиет",
}

// Categories returns the facet list: the default subjects, then categories
// seen on posts in first-seen order, then the general category if missing.
func Categories(posts []models.Post) []string {
	out := make([]string, 0, len(DefaultCategories)+1)
	seen := make(map[string]struct{}, len(DefaultCategories))
	add := func(c string) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	for _, c := range DefaultCategories {
		add(c)
	}
	for _, p := range posts {
		add(p.Category)
	}
	add(models.GeneralCategory)
	return out
}

// CategoryCounts counts the posts in each facet.
func CategoryCounts(posts []models.Post, facets []string) map[string]int {
	counts := make(map[string]int, len(facets))
	for _, f := range facets {
		counts[f] = 0
	}
	for _, p := range posts {
		if _, ok := counts[p.Category]; ok {
			counts[p.Category]++
		}
	}
	return counts
}

// VisiblePosts filters posts by category; an empty category keeps all posts.
func VisiblePosts(posts []models.Post, category string) []models.Post {
	if category == "" {
		return posts
	}
	out := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// PostsByAuthor returns the posts written by userID, keeping their order.
func PostsByAuthor(posts []models.Post, userID string) []models.Post {
	out := make([]models.Post, 0)
	for _, p := range posts {
		if p.AuthorID == userID {
			out = append(out, p)
		}
	}
	return out
}

// Popular returns up to n posts ordered by like count, most liked first.
// Ties keep feed order.
func Popular(v *ViewModel, n int) []models.Post {
	sorted := slices.Clone(v.Posts)
	slices.SortStableFunc(sorted, func(a, b models.Post) int {
		return v.LikesFor(b.ID).Count - v.LikesFor(a.ID).Count
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// UserStats is one leaderboard row.
type UserStats struct {
	User          models.User
	PostsCount    int
	LikesReceived int
	Score         int
}

// Leaderboard ranks the known authors by 2*posts + likes received and keeps
// the top n. Ties keep first-seen order.
func Leaderboard(v *ViewModel, n int) []UserStats {
	rows := make([]UserStats, 0, len(v.AuthorOrder))
	for _, id := range v.AuthorOrder {
		u, ok := v.Authors[id]
		if !ok {
			continue
		}
		rows = append(rows, StatsFor(v, u))
	}
	slices.SortStableFunc(rows, func(a, b UserStats) int {
		return b.Score - a.Score
	})
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// StatsFor counts the posts of u and the likes they received.
func StatsFor(v *ViewModel, u models.User) UserStats {
	s := UserStats{User: u}
	for _, p := range v.Posts {
		if p.AuthorID != u.ID {
			continue
		}
		s.PostsCount++
		s.LikesReceived += v.LikesFor(p.ID).Count
	}
	s.Score = s.PostsCount*2 + s.LikesReceived
	return s
}

// ThreadNode is a comment with its replies.
type ThreadNode struct {
	Comment models.Comment
	Replies []*ThreadNode
}

// Thread arranges the comments of postID into a reply tree. Comments whose
// parent is not among the post's comments are shown at the top level.
func Thread(v *ViewModel, postID string) []*ThreadNode {
	comments := v.CommentsFor(postID)
	nodes := make(map[string]*ThreadNode, len(comments))
	for _, c := range comments {
		nodes[c.ID] = &ThreadNode{Comment: c}
	}

	roots := make([]*ThreadNode, 0)
	for _, c := range comments {
		node := nodes[c.ID]
		if c.IsReply() {
			if parent, ok := nodes[*c.ParentID]; ok && parent != node {
				parent.Replies = append(parent.Replies, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// Excerpt shortens text to n runes, marking the cut with "...".
func Excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}
