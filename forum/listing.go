package forum

import (
	"context"
	"fmt"
	"strings"
)

const PageSize = 50

// PaginationData holds the page position of a listing.
type PaginationData struct {
	CurrentPage int  `json:"current_page"`
	TotalPages  int  `json:"total_pages"`
	NextPage    int  `json:"next_page"`
	PrevPage    int  `json:"prev_page"`
	HasNext     bool `json:"has_next"`
	HasPrev     bool `json:"has_prev"`
}

func newPagination(page, total, pageSize int) PaginationData {
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return PaginationData{
		CurrentPage: page,
		TotalPages:  totalPages,
		NextPage:    page + 1,
		PrevPage:    page - 1,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

type ForumRow struct {
	Forum    Forum `json:"forum"`
	LastPost *Post `json:"last_post,omitempty"`
	Unread   bool  `json:"unread"`
}

type CategoryRow struct {
	Category Category   `json:"category"`
	Forums   []ForumRow `json:"forums"`
}

type IndexViewData struct {
	Categories []CategoryRow `json:"categories"`
}

type TopicRow struct {
	Topic    Topic `json:"topic"`
	LastPost *Post `json:"last_post,omitempty"`
	Unread   bool  `json:"unread"`
}

type ForumViewData struct {
	Forum      Forum          `json:"forum"`
	Topics     []TopicRow     `json:"topics"`
	Pagination PaginationData `json:"pagination"`
}

type UserDetailsData struct {
	User       User `json:"user"`
	TopicCount int  `json:"topic_count"`
}

type UserTopicsViewData struct {
	User       User           `json:"user"`
	Topics     []TopicRow     `json:"topics"`
	Pagination PaginationData `json:"pagination"`
}

type UserListViewData struct {
	Search     string         `json:"search,omitempty"`
	Users      []User         `json:"users"`
	Pagination PaginationData `json:"pagination"`
}

type TopicViewData struct {
	Topic      Topic          `json:"topic"`
	Posts      []Post         `json:"posts"`
	Pagination PaginationData `json:"pagination"`
}

// Lister assembles list pages. It reads the stored aggregates as they are
// and resolves every row's last post with one batched lookup per page.
type Lister struct {
	store         Reader
	posts         PostLoader
	reads         *ReadTracker
	topicPageSize int
	postPageSize  int
	userPageSize  int
}

type ListerOption func(*Lister)

// WithPostLoader replaces the store as the source of last posts, e.g. with
// a cache in front of it.
func WithPostLoader(loader PostLoader) ListerOption {
	return func(l *Lister) {
		if loader != nil {
			l.posts = loader
		}
	}
}

func WithPageSizes(topics, posts int) ListerOption {
	return func(l *Lister) {
		if topics > 0 {
			l.topicPageSize = topics
		}
		if posts > 0 {
			l.postPageSize = posts
		}
	}
}

func WithUserPageSize(n int) ListerOption {
	return func(l *Lister) {
		if n > 0 {
			l.userPageSize = n
		}
	}
}

func NewLister(store Reader, reads *ReadTracker, opts ...ListerOption) *Lister {
	l := &Lister{
		store:         store,
		posts:         store,
		reads:         reads,
		topicPageSize: PageSize,
		postPageSize:  PageSize,
		userPageSize:  PageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lister) PostPageSize() int { return l.postPageSize }

// Index lists every category with its forums.
func (l *Lister) Index(ctx context.Context, viewer Viewer) (IndexViewData, error) {
	categories, err := l.store.ListCategories(ctx)
	if err != nil {
		return IndexViewData{}, fmt.Errorf("list categories: %w", err)
	}
	forums, err := l.store.ListForums(ctx)
	if err != nil {
		return IndexViewData{}, fmt.Errorf("list forums: %w", err)
	}
	state, err := l.reads.State(ctx, viewer)
	if err != nil {
		return IndexViewData{}, err
	}

	ids := make([]*int64, 0, len(forums))
	for _, f := range forums {
		ids = append(ids, f.LastPostID)
	}
	posts, err := LoadLastPosts(ctx, l.posts, ids)
	if err != nil {
		return IndexViewData{}, fmt.Errorf("load last posts: %w", err)
	}

	byCategory := make(map[int64][]ForumRow, len(categories))
	for _, f := range forums {
		last := lastPostOf(f.LastPostID, posts)
		byCategory[f.CategoryID] = append(byCategory[f.CategoryID], ForumRow{
			Forum:    f,
			LastPost: last,
			Unread:   IsForumUnread(viewer, f, last, state),
		})
	}
	data := IndexViewData{Categories: make([]CategoryRow, 0, len(categories))}
	for _, c := range categories {
		data.Categories = append(data.Categories, CategoryRow{Category: c, Forums: byCategory[c.ID]})
	}
	return data, nil
}

// ForumPage lists one page of a forum's topics, sticky topics first.
func (l *Lister) ForumPage(ctx context.Context, viewer Viewer, forumID int64, page int) (ForumViewData, error) {
	if page < 1 {
		page = 1
	}
	forum, err := l.store.GetForum(ctx, forumID)
	if err != nil {
		return ForumViewData{}, err
	}
	topics, err := l.store.ListTopics(ctx, forumID, l.topicPageSize, (page-1)*l.topicPageSize)
	if err != nil {
		return ForumViewData{}, fmt.Errorf("list topics: %w", err)
	}
	rows, err := l.topicRows(ctx, viewer, topics)
	if err != nil {
		return ForumViewData{}, err
	}
	return ForumViewData{
		Forum:      forum,
		Topics:     rows,
		Pagination: newPagination(page, forum.TopicCount, l.topicPageSize),
	}, nil
}

// topicRows resolves the last post and unread flag of every topic with one
// read state load and one batched post lookup.
func (l *Lister) topicRows(ctx context.Context, viewer Viewer, topics []Topic) ([]TopicRow, error) {
	state, err := l.reads.State(ctx, viewer)
	if err != nil {
		return nil, err
	}
	ids := make([]*int64, 0, len(topics))
	for _, t := range topics {
		ids = append(ids, t.LastPostID)
	}
	posts, err := LoadLastPosts(ctx, l.posts, ids)
	if err != nil {
		return nil, fmt.Errorf("load last posts: %w", err)
	}
	rows := make([]TopicRow, 0, len(topics))
	for _, t := range topics {
		last := lastPostOf(t.LastPostID, posts)
		rows = append(rows, TopicRow{
			Topic:    t,
			LastPost: last,
			Unread:   IsTopicUnread(viewer, t, last, state),
		})
	}
	return rows, nil
}

// TopicPage lists one page of a topic's posts in posting order.
func (l *Lister) TopicPage(ctx context.Context, topicID int64, page int) (TopicViewData, error) {
	if page < 1 {
		page = 1
	}
	topic, err := l.store.GetTopic(ctx, topicID)
	if err != nil {
		return TopicViewData{}, err
	}
	posts, err := l.store.ListPosts(ctx, topicID, l.postPageSize, (page-1)*l.postPageSize)
	if err != nil {
		return TopicViewData{}, fmt.Errorf("list posts: %w", err)
	}
	return TopicViewData{
		Topic:      topic,
		Posts:      posts,
		Pagination: newPagination(page, topic.PostCount, l.postPageSize),
	}, nil
}

// UserDetails reports a user's profile and how many topics they opened.
func (l *Lister) UserDetails(ctx context.Context, handle string) (UserDetailsData, error) {
	user, err := l.store.GetUserByHandle(ctx, handle)
	if err != nil {
		return UserDetailsData{}, err
	}
	count, err := l.store.CountTopicsByAuthor(ctx, user.ID)
	if err != nil {
		return UserDetailsData{}, fmt.Errorf("count topics of %s: %w", handle, err)
	}
	return UserDetailsData{User: user, TopicCount: count}, nil
}

// UserTopics lists one page of the topics a user opened, newest first.
func (l *Lister) UserTopics(ctx context.Context, viewer Viewer, handle string, page int) (UserTopicsViewData, error) {
	if page < 1 {
		page = 1
	}
	details, err := l.UserDetails(ctx, handle)
	if err != nil {
		return UserTopicsViewData{}, err
	}
	topics, err := l.store.ListTopicsByAuthor(ctx, details.User.ID, l.topicPageSize, (page-1)*l.topicPageSize)
	if err != nil {
		return UserTopicsViewData{}, fmt.Errorf("list topics of %s: %w", handle, err)
	}
	rows, err := l.topicRows(ctx, viewer, topics)
	if err != nil {
		return UserTopicsViewData{}, err
	}
	return UserTopicsViewData{
		User:       details.User,
		Topics:     rows,
		Pagination: newPagination(page, details.TopicCount, l.topicPageSize),
	}, nil
}

// Users lists one page of users by handle, optionally filtered by search.
func (l *Lister) Users(ctx context.Context, search string, page int) (UserListViewData, error) {
	if page < 1 {
		page = 1
	}
	search = strings.TrimSpace(search)
	total, err := l.store.CountUsers(ctx, search)
	if err != nil {
		return UserListViewData{}, fmt.Errorf("count users: %w", err)
	}
	users, err := l.store.ListUsers(ctx, search, l.userPageSize, (page-1)*l.userPageSize)
	if err != nil {
		return UserListViewData{}, fmt.Errorf("list users: %w", err)
	}
	if users == nil {
		users = []User{}
	}
	return UserListViewData{
		Search:     search,
		Users:      users,
		Pagination: newPagination(page, total, l.userPageSize),
	}, nil
}
