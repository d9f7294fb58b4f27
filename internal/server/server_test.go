package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bilimshare/internal/cache"
	"bilimshare/internal/config"
	"bilimshare/internal/feed"
	"bilimshare/internal/models"
	"bilimshare/internal/service"
	"bilimshare/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

type testEnv struct {
	srv     *Server
	app     *fiber.App
	db      *gorm.DB
	fx      *testutil.Fixture
	admin   *models.User
	teacher *models.User
	student *models.User
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>bilimshare</html>"), 0o644))
	return &config.Config{
		Port:                "0",
		Env:                 "test",
		StaticDir:           static,
		StoreDriver:         "sqlite",
		StoreTimeoutSeconds: 5,
		JWTSecret:           testSecret,
		JWTTTLHours:         1,
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	return newTestEnvWithRedis(t, nil, mutate...)
}

func newTestEnvWithRedis(t *testing.T, rdb *redis.Client, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := newTestConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	db := testutil.NewSQLiteDB(t)
	srv, err := NewServerWithDeps(cfg, db, rdb)
	t.Cleanup(func() { cache.SetClient(nil) })
	require.NoError(t, err)

	fx := testutil.NewFixture(t, db)
	return &testEnv{
		srv:     srv,
		app:     srv.App(),
		db:      db,
		fx:      fx,
		admin:   fx.User("Админ", models.RoleAdmin),
		teacher: fx.User("Айгүл Сейітова", models.RoleTeacher),
		student: fx.User("Дана Омарова", models.RoleStudent),
	}
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iss": service.TokenIssuer,
		"aud": service.TokenAudience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealthChecks(t *testing.T) {
	e := newTestEnv(t)

	status, _ := e.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, body := e.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, status)
	ready := decode[map[string]any](t, body)
	assert.Equal(t, "healthy", ready["status"])
	checks := ready["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "disabled", checks["redis"])
}

func TestGetPosts_CompatShape(t *testing.T) {
	e := newTestEnv(t)
	older := e.fx.Post(e.teacher, "Ньютон заңдары", "Физика")
	newer := e.fx.Post(e.admin, "Бөлшектер", "Математика")
	e.fx.Like(older, e.student)
	e.fx.Like(older, e.admin)

	status, body := e.do(t, http.MethodGet, "/api/posts", nil, "")
	require.Equal(t, http.StatusOK, status)

	posts := decode[[]CompatPost](t, body)
	require.Len(t, posts, 2)
	assert.Equal(t, newer.ID, posts[0].ID, "newest first")
	assert.Equal(t, 0, posts[0].LikesCount)
	assert.Empty(t, posts[0].Likes)

	assert.Equal(t, older.ID, posts[1].ID)
	require.NotNil(t, posts[1].Users)
	assert.Equal(t, "Айгүл Сейітова", posts[1].Users.Name)
	assert.Equal(t, 2, posts[1].LikesCount)
	assert.ElementsMatch(t, []CompatLike{{UserID: e.student.ID}, {UserID: e.admin.ID}}, posts[1].Likes)
}

func TestToggleLike_Compat(t *testing.T) {
	e := newTestEnv(t)
	post := e.fx.Post(e.teacher, "Фотосинтез", "Биология")

	t.Run("missing fields", func(t *testing.T) {
		status, body := e.do(t, http.MethodPost, "/api/like", map[string]string{"post_id": post.ID}, "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "user_id and post_id required", decode[models.ErrorResponse](t, body).Error)
	})

	body := map[string]string{"user_id": e.student.ID, "post_id": post.ID}

	status, resp := e.do(t, http.MethodPost, "/api/like", body, "")
	require.Equal(t, http.StatusOK, status, string(resp))
	assert.Equal(t, service.MessageLiked, decode[map[string]string](t, resp)["message"])

	status, resp = e.do(t, http.MethodGet, "/api/likes/"+post.ID, nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, decode[map[string]int](t, resp)["likes"])

	status, resp = e.do(t, http.MethodPost, "/api/like", body, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, service.MessageUnliked, decode[map[string]string](t, resp)["message"])

	_, resp = e.do(t, http.MethodGet, "/api/likes/"+post.ID, nil, "")
	assert.EqualValues(t, 0, decode[map[string]int](t, resp)["likes"])

	t.Run("session must match body user", func(t *testing.T) {
		status, _ := e.do(t, http.MethodPost, "/api/like", body, tokenFor(t, e.teacher.ID))
		assert.Equal(t, http.StatusForbidden, status)
	})
}

func TestLikesCount_CacheDroppedWhenLikerDeleted(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := newTestEnvWithRedis(t, rdb)
	post := e.fx.Post(e.teacher, "Фотосинтез", "Биология")

	status, resp := e.do(t, http.MethodPost, "/api/like",
		map[string]string{"user_id": e.student.ID, "post_id": post.ID}, "")
	require.Equal(t, http.StatusOK, status, string(resp))

	_, resp = e.do(t, http.MethodGet, "/api/likes/"+post.ID, nil, "")
	assert.EqualValues(t, 1, decode[map[string]int](t, resp)["likes"])
	assert.True(t, mr.Exists(cache.LikesCountKey(post.ID)))

	status, resp = e.do(t, http.MethodDelete, "/api/users/"+e.student.ID+"?confirm=true", nil, tokenFor(t, e.admin.ID))
	require.Equal(t, http.StatusOK, status, string(resp))
	assert.False(t, mr.Exists(cache.LikesCountKey(post.ID)))

	_, resp = e.do(t, http.MethodGet, "/api/likes/"+post.ID, nil, "")
	assert.EqualValues(t, 0, decode[map[string]int](t, resp)["likes"])
}

func TestAddComment_Compat(t *testing.T) {
	e := newTestEnv(t)
	post := e.fx.Post(e.teacher, "Абай жолы", "Әдебиет")

	status, resp := e.do(t, http.MethodPost, "/api/comments",
		map[string]string{"text": "   ", "post_id": post.ID, "author": e.student.ID}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, service.MsgEmptyComment, decode[models.ErrorResponse](t, resp).Error)

	status, resp = e.do(t, http.MethodPost, "/api/comments",
		map[string]string{"text": "Керемет!", "post_id": post.ID, "author": e.student.ID}, "")
	require.Equal(t, http.StatusOK, status, string(resp))
	created := decode[[]models.Comment](t, resp)
	require.Len(t, created, 1)
	assert.Equal(t, "Керемет!", created[0].Text)
	assert.Nil(t, created[0].ParentID)

	status, resp = e.do(t, http.MethodPost, "/api/comments", map[string]string{
		"text": "Рақмет", "post_id": post.ID, "author": e.teacher.ID, "parent_id": created[0].ID,
	}, "")
	require.Equal(t, http.StatusOK, status, string(resp))
	reply := decode[[]models.Comment](t, resp)[0]
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, created[0].ID, *reply.ParentID)

	status, _ = e.do(t, http.MethodPost, "/api/comments",
		map[string]string{"text": "анонимді", "post_id": post.ID}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSignupLoginAndMe(t *testing.T) {
	e := newTestEnv(t)

	status, _ := e.do(t, http.MethodPost, "/api/signup", map[string]string{"email": "arman@bilim.kz"}, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp := e.do(t, http.MethodPost, "/api/signup",
		map[string]string{"email": "Arman@Bilim.kz", "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, status, string(resp))
	session := decode[service.Session](t, resp)
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, models.RoleStudent, session.User.Role)
	assert.Equal(t, "arman", session.User.Name)

	status, _ = e.do(t, http.MethodPost, "/api/signup",
		map[string]string{"email": "arman@bilim.kz", "password": "secret123"}, "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = e.do(t, http.MethodPost, "/api/login",
		map[string]string{"email": "arman@bilim.kz", "password": "wrong-pass"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp = e.do(t, http.MethodPost, "/api/login",
		map[string]string{"email": "arman@bilim.kz", "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, status)
	session = decode[service.Session](t, resp)

	status, resp = e.do(t, http.MethodGet, "/api/me", nil, session.AccessToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "arman@bilim.kz", decode[models.User](t, resp).Email)

	status, _ = e.do(t, http.MethodGet, "/api/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = e.do(t, http.MethodGet, "/api/me", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthRequired_RejectsForeignTokens(t *testing.T) {
	e := newTestEnv(t)

	wrongAudience := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": e.student.ID,
		"iss": service.TokenIssuer,
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := wrongAudience.SignedString([]byte(testSecret))
	require.NoError(t, err)

	status, _ := e.do(t, http.MethodGet, "/api/me", nil, signed)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodGet, "/api/me", nil, tokenFor(t, "deleted-user"))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGetFeed(t *testing.T) {
	e := newTestEnv(t)
	physics := e.fx.Post(e.teacher, "Ньютон заңдары", "Физика")
	math := e.fx.Post(e.admin, "Бөлшектер", "Математика")
	root := e.fx.Comment(physics, e.student, "Сұрақ бар", nil)
	e.fx.Comment(physics, e.teacher, "Жауап", root)
	e.fx.Like(physics, e.student)

	status, resp := e.do(t, http.MethodGet, "/api/feed", nil, tokenFor(t, e.student.ID))
	require.Equal(t, http.StatusOK, status, string(resp))
	f := decode[FeedResponse](t, resp)

	require.Len(t, f.Posts, 2)
	assert.Equal(t, 2, f.Total)
	assert.Equal(t, math.ID, f.Posts[0].ID)
	p := f.Posts[1]
	assert.Equal(t, physics.ID, p.ID)
	assert.Equal(t, "Айгүл Сейітова", p.Author.Name)
	assert.Equal(t, 1, p.Likes)
	assert.True(t, p.LikedByMe)
	assert.Equal(t, 2, p.CommentCount)
	require.Len(t, p.Comments, 1)
	// Only post authors are resolved; other commenters show as anonymous.
	assert.Equal(t, feed.AnonymousCommenter, p.Comments[0].AuthorName)
	require.Len(t, p.Comments[0].Replies, 1)
	assert.Equal(t, "Айгүл Сейітова", p.Comments[0].Replies[0].AuthorName)
	assert.Contains(t, p.BodyHTML, "<p>")

	assert.NotEmpty(t, f.Categories)
	counts := map[string]int{}
	for _, c := range f.Categories {
		counts[c.Name] = c.Count
	}
	assert.Equal(t, 1, counts["Физика"])
	assert.Equal(t, 1, counts["Математика"])
	require.NotEmpty(t, f.Popular)
	assert.Equal(t, physics.ID, f.Popular[0].ID)
	require.NotEmpty(t, f.Leaderboard)

	t.Run("anonymous viewer", func(t *testing.T) {
		_, resp := e.do(t, http.MethodGet, "/api/feed", nil, "")
		for _, p := range decode[FeedResponse](t, resp).Posts {
			assert.False(t, p.LikedByMe)
		}
	})

	t.Run("category filter", func(t *testing.T) {
		_, resp := e.do(t, http.MethodGet, "/api/feed?category="+url.QueryEscape("Физика"), nil, "")
		f := decode[FeedResponse](t, resp)
		require.Len(t, f.Posts, 1)
		assert.Equal(t, physics.ID, f.Posts[0].ID)
		assert.Equal(t, 2, f.Total)
	})

	t.Run("author filter", func(t *testing.T) {
		_, resp := e.do(t, http.MethodGet, "/api/feed?user="+e.admin.ID, nil, "")
		f := decode[FeedResponse](t, resp)
		require.Len(t, f.Posts, 1)
		assert.Equal(t, math.ID, f.Posts[0].ID)
	})
}

func TestCreatePost(t *testing.T) {
	e := newTestEnv(t)
	body := map[string]string{"title": "Жаңа тақырып", "body": "Мазмұны", "category": "Химия"}

	status, _ := e.do(t, http.MethodPost, "/api/posts", body, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp := e.do(t, http.MethodPost, "/api/posts", body, tokenFor(t, e.student.ID))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, service.MsgPublishForbidden, decode[models.ErrorResponse](t, resp).Error)

	status, resp = e.do(t, http.MethodPost, "/api/posts",
		map[string]string{"title": "", "body": "x"}, tokenFor(t, e.teacher.ID))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, models.CodeValidation, decode[models.ErrorResponse](t, resp).Code)

	status, resp = e.do(t, http.MethodPost, "/api/posts", body, tokenFor(t, e.teacher.ID))
	require.Equal(t, http.StatusCreated, status, string(resp))
	post := decode[models.Post](t, resp)
	assert.Equal(t, e.teacher.ID, post.AuthorID)
	assert.Equal(t, "Химия", post.Category)
	assert.NotEmpty(t, post.Image)

	// The action refreshed the snapshot, so the feed already shows the post.
	_, resp = e.do(t, http.MethodGet, "/api/feed", nil, "")
	f := decode[FeedResponse](t, resp)
	require.Len(t, f.Posts, 1)
	assert.Equal(t, post.ID, f.Posts[0].ID)
}

func TestCreatePost_BodyKeptRawAndSanitizedOnRender(t *testing.T) {
	e := newTestEnv(t)
	raw := "a<b және b>c\n\n<script>alert(1)</script>"

	status, resp := e.do(t, http.MethodPost, "/api/posts",
		map[string]string{"title": "Теңсіздіктер", "body": raw}, tokenFor(t, e.teacher.ID))
	require.Equal(t, http.StatusCreated, status, string(resp))
	assert.Equal(t, raw, decode[models.Post](t, resp).Body)

	_, resp = e.do(t, http.MethodGet, "/api/feed", nil, "")
	f := decode[FeedResponse](t, resp)
	require.Len(t, f.Posts, 1)
	p := f.Posts[0]
	assert.Equal(t, raw, p.Body)
	assert.NotContains(t, p.BodyHTML, "<script")
	assert.Contains(t, p.BodyHTML, "a&lt;b және b&gt;c")
	assert.Equal(t, "a<b және b>c", p.Excerpt)
}

func TestDeletePost_RequiresAdminAndConfirmation(t *testing.T) {
	e := newTestEnv(t)
	post := e.fx.Post(e.teacher, "Жойылатын", "Физика")
	e.fx.Like(post, e.student)

	status, _ := e.do(t, http.MethodDelete, "/api/posts/"+post.ID+"?confirm=true", nil, tokenFor(t, e.teacher.ID))
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := e.do(t, http.MethodDelete, "/api/posts/"+post.ID, nil, tokenFor(t, e.admin.ID))
	assert.Equal(t, http.StatusPreconditionRequired, status)
	assert.Equal(t, service.MsgConfirmDeletePost, decode[models.ErrorResponse](t, resp).Error)

	status, _ = e.do(t, http.MethodDelete, "/api/posts/"+post.ID+"?confirm=true", nil, tokenFor(t, e.admin.ID))
	assert.Equal(t, http.StatusOK, status)

	var likes int64
	require.NoError(t, e.db.Model(&models.Like{}).Count(&likes).Error)
	assert.Zero(t, likes)

	status, _ = e.do(t, http.MethodDelete, "/api/posts/"+post.ID+"?confirm=true", nil, tokenFor(t, e.admin.ID))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteComment(t *testing.T) {
	e := newTestEnv(t)
	post := e.fx.Post(e.teacher, "Тақырып", "Физика")
	comment := e.fx.Comment(post, e.student, "Менің пікірім", nil)

	status, _ := e.do(t, http.MethodDelete, "/api/comments/"+comment.ID+"?confirm=true", nil, tokenFor(t, e.teacher.ID))
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = e.do(t, http.MethodDelete, "/api/comments/"+comment.ID, nil, tokenFor(t, e.student.ID))
	assert.Equal(t, http.StatusPreconditionRequired, status)

	status, _ = e.do(t, http.MethodDelete, "/api/comments/"+comment.ID+"?confirm=true", nil, tokenFor(t, e.student.ID))
	assert.Equal(t, http.StatusOK, status)
}

func TestUserAdministration(t *testing.T) {
	e := newTestEnv(t)
	adminToken := tokenFor(t, e.admin.ID)

	status, _ := e.do(t, http.MethodGet, "/api/users", nil, tokenFor(t, e.teacher.ID))
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := e.do(t, http.MethodGet, "/api/users", nil, adminToken)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.User](t, resp), 3)

	status, resp = e.do(t, http.MethodPut, "/api/users/"+e.student.ID+"/role",
		map[string]string{"role": "superuser"}, adminToken)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, service.MsgUnknownRole, decode[models.ErrorResponse](t, resp).Error)

	status, _ = e.do(t, http.MethodPut, "/api/users/"+e.student.ID+"/role",
		map[string]string{"role": "teacher"}, tokenFor(t, e.teacher.ID))
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = e.do(t, http.MethodPut, "/api/users/"+e.student.ID+"/role",
		map[string]string{"role": "teacher"}, adminToken)
	require.Equal(t, http.StatusOK, status)

	// The promoted student can publish right away.
	status, _ = e.do(t, http.MethodPost, "/api/posts",
		map[string]string{"title": "Алғашқы пост", "body": "Сәлем"}, tokenFor(t, e.student.ID))
	assert.Equal(t, http.StatusCreated, status)

	status, _ = e.do(t, http.MethodDelete, "/api/users/"+e.student.ID, nil, adminToken)
	assert.Equal(t, http.StatusPreconditionRequired, status)

	status, _ = e.do(t, http.MethodDelete, "/api/users/"+e.student.ID+"?confirm=true", nil, adminToken)
	require.Equal(t, http.StatusOK, status)

	var posts int64
	require.NoError(t, e.db.Model(&models.Post{}).Where("author = ?", e.student.ID).Count(&posts).Error)
	assert.Zero(t, posts)
}

func TestGetUserProfile(t *testing.T) {
	e := newTestEnv(t)
	post := e.fx.Post(e.teacher, "Химиялық реакциялар", "Химия")
	e.fx.Like(post, e.student)

	status, resp := e.do(t, http.MethodGet, "/api/users/"+e.teacher.ID, nil, "")
	require.Equal(t, http.StatusOK, status, string(resp))
	profile := decode[ProfileResponse](t, resp)
	assert.Equal(t, e.teacher.ID, profile.User.ID)
	require.Len(t, profile.Posts, 1)
	assert.Equal(t, post.ID, profile.Posts[0].ID)
	assert.Equal(t, 1, profile.Stats.Posts)
	assert.Equal(t, 1, profile.Stats.Likes)
	assert.Equal(t, 3, profile.Stats.Score)

	status, _ = e.do(t, http.MethodGet, "/api/users/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestOriginGuard(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.AllowedOrigins = "https://bilimshare.kz" })

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Origin", "https://bilimshare.kz")
	resp, err = e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://bilimshare.kz", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRouting_UnknownAPIAndSPAFallback(t *testing.T) {
	e := newTestEnv(t)

	status, resp := e.do(t, http.MethodGet, "/api/does-not-exist", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, models.CodeNotFound, decode[models.ErrorResponse](t, resp).Code)

	status, resp = e.do(t, http.MethodGet, "/profile/some-user", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp), "bilimshare")
}
