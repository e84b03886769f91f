package email

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"quora/internal/types"
)

// Links builds the public URLs that appear in mail.
type Links struct {
	root string
}

// NewLinks trims any trailing slash from wwwroot.
func NewLinks(wwwroot string) Links {
	return Links{root: strings.TrimRight(wwwroot, "/")}
}

// Host returns the host part of wwwroot, used as the right-hand side of
// message ids.
func (l Links) Host() string {
	u, err := url.Parse(l.root)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}

func (l Links) Course(courseID int64) string {
	return l.root + "/course/view.php?id=" + strconv.FormatInt(courseID, 10)
}

func (l Links) Forum(forumID int64) string {
	return l.root + "/mod/quora/view.php?f=" + strconv.FormatInt(forumID, 10)
}

func (l Links) Discussion(discussionID int64) string {
	return l.root + "/mod/quora/discuss.php?d=" + strconv.FormatInt(discussionID, 10)
}

func (l Links) Post(discussionID, postID int64) string {
	return fmt.Sprintf("%s#p%d", l.Discussion(discussionID), postID)
}

func (l Links) Reply(postID int64) string {
	return l.root + "/mod/quora/post.php?reply=" + strconv.FormatInt(postID, 10)
}

func (l Links) UnsubscribeForum(forumID int64) string {
	return l.root + "/mod/quora/subscribe.php?id=" + strconv.FormatInt(forumID, 10)
}

func (l Links) UnsubscribeDiscussion(forumID, discussionID int64) string {
	return fmt.Sprintf("%s&d=%d", l.UnsubscribeForum(forumID), discussionID)
}

func (l Links) DigestPreferences() string {
	return l.root + "/user/forum.php"
}

// MessageID is the per-recipient Message-ID of a post notification. It is
// stable so that In-Reply-To of a reply points at the copy this recipient
// received of the parent.
func MessageID(host string, postID, recipientID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%dto%d", postID, recipientID)))
	return "<" + hex.EncodeToString(sum[:]) + "@" + host + ">"
}

// PostHeaders returns the threading and list headers of a post mailed to
// recipientID. Replies reference both the parent and the root post.
func PostHeaders(links Links, post *types.Post, discussion *types.Discussion, forum *types.Forum, course *types.Course, recipientID int64) map[string]string {
	host := links.Host()
	h := map[string]string{
		"Message-ID":       MessageID(host, post.ID, recipientID),
		"Precedence":       "Bulk",
		"List-Id":          fmt.Sprintf("%q <quoraforum%d@%s>", headerText(course.ShortName+": "+forum.Name), forum.ID, host),
		"List-Help":        links.Forum(forum.ID),
		"List-Unsubscribe": "<" + links.UnsubscribeForum(forum.ID) + ">",
		"X-Course-Id":      strconv.FormatInt(course.ID, 10),
		"X-Course-Name":    headerText(course.FullName),
	}
	if !post.IsRoot() {
		parent := MessageID(host, post.ParentID, recipientID)
		h["In-Reply-To"] = parent
		refs := parent
		if discussion.FirstPostID != 0 && discussion.FirstPostID != post.ParentID {
			refs = MessageID(host, discussion.FirstPostID, recipientID) + " " + parent
		}
		h["References"] = refs
	}
	return h
}

// headerText strips characters that would break a header line.
func headerText(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ", `"`, "'").Replace(s)
}
