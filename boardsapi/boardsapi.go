// Package boardsapi reads user profiles and board listings published under
// user roots, and publishes this node's own root.
//
// A user root is a directory holding:
//
//	ipfs-boards-version.txt   version marker
//	profile.json              profile document
//	name                      display name
//	boards/<board>/settings.json
//	boards/<board>/<date>     one entry per post
package boardsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"xdao.co/boards/identity"
	"xdao.co/boards/node"
)

var ErrInvalidBoard = errors.New("boardsapi: invalid board name")

// Nodes supplies the storage node.
type Nodes interface {
	Node(ctx context.Context) (node.Node, error)
}

// Post is one entry of a user's board directory.
type Post struct {
	Date string `json:"date"`
	Hash string `json:"hash"`
}

type Client struct {
	nodes Nodes
	ids   *identity.Resolver
	log   *logrus.Entry
}

func New(nodes Nodes, ids *identity.Resolver, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{nodes: nodes, ids: ids, log: log.WithField("component", "boardsapi")}
}

// DownloadJSON fetches path and decodes it into out.
func (c *Client) DownloadJSON(ctx context.Context, path string, out any) error {
	n, err := c.nodes.Node(ctx)
	if err != nil {
		return err
	}
	b, err := n.Fetch(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("boardsapi: %s: %w", path, err)
	}
	return nil
}

func (c *Client) fetchText(ctx context.Context, path string) (string, error) {
	n, err := c.nodes.Node(ctx)
	if err != nil {
		return "", err
	}
	b, err := n.Fetch(ctx, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (c *Client) userPath(ctx context.Context, handle string, rel ...string) (string, error) {
	root, err := c.ids.Resolve(ctx, handle)
	if err != nil {
		return "", err
	}
	return strings.Join(append([]string{strings.TrimSuffix(root, "/")}, rel...), "/"), nil
}

func checkBoard(board string) error {
	if board == "" || strings.ContainsAny(board, "/\\") || board == "." || board == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidBoard, board)
	}
	return nil
}

// Profile returns the decoded profile.json of handle.
func (c *Client) Profile(ctx context.Context, handle string) (map[string]any, error) {
	p, err := c.userPath(ctx, handle, "profile.json")
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.DownloadJSON(ctx, p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Name returns the display name of handle.
func (c *Client) Name(ctx context.Context, handle string) (string, error) {
	p, err := c.userPath(ctx, handle, "name")
	if err != nil {
		return "", err
	}
	return c.fetchText(ctx, p)
}

// BoardSettings returns handle's settings.json for board.
func (c *Client) BoardSettings(ctx context.Context, handle, board string) (map[string]any, error) {
	if err := checkBoard(board); err != nil {
		return nil, err
	}
	p, err := c.userPath(ctx, handle, "boards", board, "settings.json")
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := c.DownloadJSON(ctx, p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UserPosts lists handle's posts in board, oldest first.
func (c *Client) UserPosts(ctx context.Context, handle, board string) ([]Post, error) {
	if err := checkBoard(board); err != nil {
		return nil, err
	}
	p, err := c.userPath(ctx, handle, "boards", board)
	if err != nil {
		return nil, err
	}
	n, err := c.nodes.Node(ctx)
	if err != nil {
		return nil, err
	}
	links, err := n.ListDirectory(ctx, p)
	if err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(links))
	for _, l := range links {
		if l.Name == "settings.json" {
			continue
		}
		posts = append(posts, Post{Date: l.Name, Hash: l.Address})
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].Date < posts[j].Date })
	return posts, nil
}

// PublishVersion writes the version marker into this node's root directory,
// keeping any other entries, and points the node's name at the new root.
func (c *Client) PublishVersion(ctx context.Context) (string, error) {
	n, err := c.nodes.Node(ctx)
	if err != nil {
		return "", err
	}
	pub, ok := n.(node.Publisher)
	if !ok {
		return "", fmt.Errorf("boardsapi: node %s cannot publish content", n.ID())
	}

	marker, err := pub.Add(ctx, []byte(c.ids.Version()+"\n"))
	if err != nil {
		return "", err
	}
	links := []node.Link{{Name: identity.VersionFile, Address: marker}}

	if cur, err := n.ResolveName(ctx, n.ID()); err == nil {
		existing, err := n.ListDirectory(ctx, cur)
		if err != nil {
			return "", fmt.Errorf("boardsapi: current root %s: %w", cur, err)
		}
		for _, l := range existing {
			if l.Name != identity.VersionFile {
				links = append(links, l)
			}
		}
	} else if !node.IsNotFound(err) {
		return "", err
	}

	root, err := pub.AddDirectory(ctx, links)
	if err != nil {
		return "", err
	}
	if err := pub.PublishName(ctx, root); err != nil {
		return "", err
	}
	c.log.WithFields(logrus.Fields{"root": root, "version": c.ids.Version()}).Info("version marker published")
	return root, nil
}
