package cache

// Cache key builders shared by every component that reads or invalidates
// an entity. Invalidation must use the exact same keys as population, so
// they live here rather than in each service.

func UserIDKey(id string) string { return "user:id:" + id }

func UserUsernameKey(username string) string { return "user:username:" + username }

func UserEmailKey(email string) string { return "user:email:" + email }

func PostKey(id string) string { return "post:id:" + id }

func PostListKey() string { return "post:list" }

func AnnouncementListKey() string { return "announcement:list" }
