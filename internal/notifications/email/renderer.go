package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"quora/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// dateFormat is the post timestamp format used in mail bodies.
const dateFormat = "Mon, 2 Jan 2006, 15:04"

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// PostMessage is the input of a single-post notification.
type PostMessage struct {
	Post       *types.Post
	Author     *types.User
	Discussion *types.Discussion
	Forum      *types.Forum
	Course     *types.Course
	// CanReply adds a reply link.
	CanReply bool
}

// DigestPost is one post inside a digest discussion.
type DigestPost struct {
	Post   *types.Post
	Author *types.User
}

// DigestDiscussion groups a recipient's queued posts of one discussion.
// Mode selects full bodies or subject lines for this discussion.
type DigestDiscussion struct {
	Course     *types.Course
	Forum      *types.Forum
	Discussion *types.Discussion
	Mode       types.DigestMode
	Posts      []DigestPost
}

// DigestMessage is everything one recipient receives in a digest run.
type DigestMessage struct {
	Recipient   *types.User
	Discussions []DigestDiscussion
}

type postData struct {
	Subject                  string
	PostSubject              string
	AuthorName               string
	Created                  string
	CourseShortName          string
	CourseURL                string
	ForumName                string
	ForumURL                 string
	DiscussionName           string
	DiscussionURL            string
	PostURL                  string
	ReplyURL                 string
	UnsubscribeURL           string
	UnsubscribeDiscussionURL string
	MessageHTML              template.HTML
	MessageText              string
}

type digestData struct {
	Subject        string
	Greeting       string
	PreferencesURL string
	Discussions    []digestDiscussionData
}

type digestDiscussionData struct {
	CourseShortName string
	CourseURL       string
	ForumName       string
	ForumURL        string
	DiscussionName  string
	DiscussionURL   string
	Full            bool
	Posts           []digestPostData
}

type digestPostData struct {
	Subject     string
	AuthorName  string
	Created     string
	URL         string
	MessageHTML template.HTML
	MessageText string
}

// RendererConfig holds the parameters needed to construct a Renderer.
type RendererConfig struct {
	SiteName string
	WWWRoot  string
	// Location is the zone post times are shown in. Nil means UTC.
	Location *time.Location
}

// Renderer renders forum mail from the embedded templates.
type Renderer struct {
	postHTML   *template.Template
	postText   *texttemplate.Template
	digestHTML *template.Template
	digestText *texttemplate.Template

	siteName string
	links    Links
	loc      *time.Location
}

// NewRenderer parses the embedded templates and returns a Renderer.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	r := &Renderer{
		siteName: cfg.SiteName,
		links:    NewLinks(cfg.WWWRoot),
		loc:      cfg.Location,
	}
	if r.loc == nil {
		r.loc = time.UTC
	}

	var err error
	if r.postHTML, err = parseHTML("post"); err != nil {
		return nil, err
	}
	if r.digestHTML, err = parseHTML("digest"); err != nil {
		return nil, err
	}
	if r.postText, err = parseText("post"); err != nil {
		return nil, err
	}
	if r.digestText, err = parseText("digest"); err != nil {
		return nil, err
	}
	return r, nil
}

func parseHTML(name string) (*template.Template, error) {
	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}
	content, err := templateFS.ReadFile("templates/" + name + ".html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read %s.html: %w", name, err)
	}
	tmpl, err := template.New("base").Parse(string(baseHTML))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
	}
	if _, err := tmpl.Parse(string(content)); err != nil {
		return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", name, err)
	}
	return tmpl, nil
}

func parseText(name string) (*texttemplate.Template, error) {
	content, err := templateFS.ReadFile("templates/" + name + ".txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read %s.txt: %w", name, err)
	}
	tmpl, err := texttemplate.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse %s.txt: %w", name, err)
	}
	return tmpl, nil
}

// Links returns the URL builder the renderer uses.
func (r *Renderer) Links() Links {
	return r.links
}

// RenderPost renders a single-post notification. The subject is
// "<course shortname>: <post subject>".
func (r *Renderer) RenderPost(m PostMessage) (*RenderedEmail, error) {
	if m.Post == nil || m.Discussion == nil || m.Forum == nil || m.Course == nil {
		return nil, fmt.Errorf("renderer: incomplete post message")
	}

	data := postData{
		Subject:                  m.Course.ShortName + ": " + m.Post.Subject,
		PostSubject:              m.Post.Subject,
		AuthorName:               authorName(m.Author),
		Created:                  m.Post.Created.In(r.loc).Format(dateFormat),
		CourseShortName:          m.Course.ShortName,
		CourseURL:                r.links.Course(m.Course.ID),
		ForumName:                m.Forum.Name,
		ForumURL:                 r.links.Forum(m.Forum.ID),
		DiscussionName:           m.Discussion.Name,
		DiscussionURL:            r.links.Discussion(m.Discussion.ID),
		PostURL:                  r.links.Post(m.Discussion.ID, m.Post.ID),
		UnsubscribeURL:           r.links.UnsubscribeForum(m.Forum.ID),
		UnsubscribeDiscussionURL: r.links.UnsubscribeDiscussion(m.Forum.ID, m.Discussion.ID),
		MessageHTML:              template.HTML(m.Post.Message),
		MessageText:              HTMLToText(m.Post.Message),
	}
	if m.CanReply {
		data.ReplyURL = r.links.Reply(m.Post.ID)
	}

	var htmlBuf, txtBuf bytes.Buffer
	if err := r.postHTML.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render post HTML: %w", err)
	}
	if err := r.postText.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render post text: %w", err)
	}
	return &RenderedEmail{Subject: data.Subject, BodyHTML: htmlBuf.String(), BodyText: txtBuf.String()}, nil
}

// RenderDigest renders one recipient's digest. Discussions in
// DigestSubjects mode list subject lines only.
func (r *Renderer) RenderDigest(m DigestMessage) (*RenderedEmail, error) {
	if len(m.Discussions) == 0 {
		return nil, fmt.Errorf("renderer: empty digest")
	}

	site := r.siteName
	if site == "" {
		site = "Forum"
	}
	data := digestData{
		Subject:        site + ": forum digest",
		Greeting:       fmt.Sprintf("This is your daily digest of new posts from the %s forums.", site),
		PreferencesURL: r.links.DigestPreferences(),
	}
	for _, d := range m.Discussions {
		dd := digestDiscussionData{
			CourseShortName: d.Course.ShortName,
			CourseURL:       r.links.Course(d.Course.ID),
			ForumName:       d.Forum.Name,
			ForumURL:        r.links.Forum(d.Forum.ID),
			DiscussionName:  d.Discussion.Name,
			DiscussionURL:   r.links.Discussion(d.Discussion.ID),
			Full:            d.Mode != types.DigestSubjects,
		}
		for _, p := range d.Posts {
			pd := digestPostData{
				Subject:    p.Post.Subject,
				AuthorName: authorName(p.Author),
				Created:    p.Post.Created.In(r.loc).Format(dateFormat),
				URL:        r.links.Post(d.Discussion.ID, p.Post.ID),
			}
			if dd.Full {
				pd.MessageHTML = template.HTML(p.Post.Message)
				pd.MessageText = HTMLToText(p.Post.Message)
			}
			dd.Posts = append(dd.Posts, pd)
		}
		data.Discussions = append(data.Discussions, dd)
	}

	var htmlBuf, txtBuf bytes.Buffer
	if err := r.digestHTML.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render digest HTML: %w", err)
	}
	if err := r.digestText.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render digest text: %w", err)
	}
	return &RenderedEmail{Subject: data.Subject, BodyHTML: htmlBuf.String(), BodyText: txtBuf.String()}, nil
}

func authorName(u *types.User) string {
	if u == nil {
		return "Unknown user"
	}
	return u.FullName()
}
