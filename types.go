package quill

// BlogPost is the stored post document, one JSON file per id.
type BlogPost struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Subtitle  string     `json:"subtitle"`
	Content   string     `json:"content"`
	Category  string     `json:"category"`
	Tags      []string   `json:"tags"`
	Images    []ImageRef `json:"images"`
	Published bool       `json:"published"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// ImageRef points at a persisted image. ID is whatever the client sent
// (editors use both strings and numbers) and is stored untouched.
type ImageRef struct {
	ID      any    `json:"id"`
	Name    string `json:"name"`
	Caption string `json:"caption"`
	Path    string `json:"path"`
	Type    string `json:"type"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// PostInput is the body accepted by Save.
type PostInput struct {
	ID        string       `json:"id"`
	Title     string       `json:"title" validate:"required" message:"required:title is required"`
	Subtitle  string       `json:"subtitle"`
	Content   string       `json:"content" validate:"required" message:"required:content is required"`
	Category  string       `json:"category"`
	Tags      []string     `json:"tags"`
	Images    []ImageInput `json:"images"`
	Published bool         `json:"published"`
	CreatedAt string       `json:"created_at"`
}

// ImageInput is an inbound image entry. Data holds a data URL for new
// uploads; entries without one must carry a Path.
type ImageInput struct {
	ImageRef
	Data string `json:"data,omitempty"`
}
