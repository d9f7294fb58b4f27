package feed

import "bilimshare/internal/models"

// Display names used when a referenced user is not in the author map.
const (
	UnknownAuthorName  = "Белгісіз"
	AnonymousCommenter = "Аноним"
)

// LikeAggregate is the like count of a post and the set of users who liked it.
type LikeAggregate struct {
	Count   int
	UserIDs map[string]struct{}
}

// Has reports whether userID liked the post.
func (a LikeAggregate) Has(userID string) bool {
	_, ok := a.UserIDs[userID]
	return ok
}

// ViewModel joins one fetch of the collections into lookup structures.
type ViewModel struct {
	Posts       []models.Post
	Authors     map[string]models.User
	AuthorOrder []string
	Comments    map[string][]models.Comment
	Likes       map[string]LikeAggregate
}

// Build derives the view model from c. It is pure: the same collections
// always produce the same view model.
func Build(c *Collections) *ViewModel {
	v := &ViewModel{
		Posts:       c.Posts,
		Authors:     make(map[string]models.User, len(c.Users)),
		AuthorOrder: AuthorIDs(c.Posts),
		Comments:    make(map[string][]models.Comment),
		Likes:       make(map[string]LikeAggregate),
	}
	if v.Posts == nil {
		v.Posts = []models.Post{}
	}

	for _, u := range c.Users {
		v.Authors[u.ID] = u
	}

	for _, cm := range c.Comments {
		v.Comments[cm.PostID] = append(v.Comments[cm.PostID], cm)
	}

	for _, l := range c.Likes {
		agg := v.Likes[l.PostID]
		if agg.UserIDs == nil {
			agg.UserIDs = make(map[string]struct{})
		}
		agg.Count++
		agg.UserIDs[l.UserID] = struct{}{}
		v.Likes[l.PostID] = agg
	}

	return v
}

// LikesFor returns the like aggregate of postID; absent posts have zero likes.
func (v *ViewModel) LikesFor(postID string) LikeAggregate {
	return v.Likes[postID]
}

// LikedBy reports whether userID liked postID.
func (v *ViewModel) LikedBy(postID, userID string) bool {
	if userID == "" {
		return false
	}
	return v.Likes[postID].Has(userID)
}

// CommentsFor returns the comments of postID, oldest first.
func (v *ViewModel) CommentsFor(postID string) []models.Comment {
	return v.Comments[postID]
}

// Author looks up a user in the author map.
func (v *ViewModel) Author(id string) (models.User, bool) {
	u, ok := v.Authors[id]
	return u, ok
}

// AuthorName returns the display name of a post author.
func (v *ViewModel) AuthorName(id string) string {
	if u, ok := v.Authors[id]; ok && u.Name != "" {
		return u.Name
	}
	return UnknownAuthorName
}

// CommenterName returns the display name of a comment author.
func (v *ViewModel) CommenterName(id string) string {
	if u, ok := v.Authors[id]; ok && u.Name != "" {
		return u.Name
	}
	return AnonymousCommenter
}

// Post finds a post by ID.
func (v *ViewModel) Post(id string) (models.Post, bool) {
	for _, p := range v.Posts {
		if p.ID == id {
			return p, true
		}
	}
	return models.Post{}, false
}
