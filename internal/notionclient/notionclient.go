// Package notionclient wraps the Notion API for the read paths this service
// needs: fetching a page's properties and its block tree, and iterating a
// database's pages.
package notionclient

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"
)

// DefaultRateLimit is Notion's documented rate limit, in requests/second.
const DefaultRateLimit = 3

// Client wraps notionapi.Client with a rate-limit gate in front of every
// call, the same shape used elsewhere in this codebase for the Zotero
// client.
type Client struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit overrides the default requests/second limit.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
}

// New creates a Client authenticated with the given integration token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(rate.Every(time.Second/DefaultRateLimit), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// GetPage retrieves a page by id.
func (c *Client) GetPage(ctx context.Context, pageID string) (*notionapi.Page, error) {
	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	page, err := c.api.Page.Get(ctx, notionapi.PageID(pageID))
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// GetPageProperties retrieves a page and returns only its properties.
func (c *Client) GetPageProperties(ctx context.Context, pageID string) (notionapi.Properties, error) {
	page, err := c.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return page.Properties, nil
}

// GetBlockChildren returns every direct child block of a block or page,
// following pagination. If recursive is true, it also descends into every
// child that reports HasChildren, attaching their children to the returned
// blocks.
func (c *Client) GetBlockChildren(ctx context.Context, blockID string, recursive bool) ([]notionapi.Block, error) {
	var blocks []notionapi.Block
	var cursor notionapi.Cursor

	for {
		if err := c.wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}

		resp, err := c.api.Block.GetChildren(ctx, notionapi.BlockID(blockID), &notionapi.Pagination{
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return nil, fmt.Errorf("get block children: %w", err)
		}

		blocks = append(blocks, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}

	if recursive {
		for i, block := range blocks {
			if !hasChildren(block) {
				continue
			}
			id := extractBlockID(block)
			if id == "" {
				continue
			}
			children, err := c.GetBlockChildren(ctx, id, true)
			if err != nil {
				return nil, fmt.Errorf("get nested blocks: %w", err)
			}
			blocks[i] = setBlockChildren(block, children)
		}
	}

	return blocks, nil
}

// QueryDatabase returns one page of results from a database query.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, cursor notionapi.Cursor) (*notionapi.DatabaseQueryResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req := &notionapi.DatabaseQueryRequest{PageSize: 100}
	if cursor != "" {
		req.StartCursor = cursor
	}

	resp, err := c.api.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("query database: %w", err)
	}
	return resp, nil
}

// QueryAllPages returns every page in a database, following pagination.
func (c *Client) QueryAllPages(ctx context.Context, databaseID string) ([]notionapi.Page, error) {
	var pages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		resp, err := c.QueryDatabase(ctx, databaseID, cursor)
		if err != nil {
			return nil, err
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			break
		}
		cursor = notionapi.Cursor(resp.NextCursor)
	}

	return pages, nil
}

// hasChildren reports whether a block type that can hold children actually
// has any, per the Notion API's has_children flag.
func hasChildren(block notionapi.Block) bool {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return b.HasChildren
	case *notionapi.BulletedListItemBlock:
		return b.HasChildren
	case *notionapi.NumberedListItemBlock:
		return b.HasChildren
	case *notionapi.ToDoBlock:
		return b.HasChildren
	case *notionapi.ToggleBlock:
		return b.HasChildren
	case *notionapi.QuoteBlock:
		return b.HasChildren
	case *notionapi.CalloutBlock:
		return b.HasChildren
	case *notionapi.ColumnListBlock:
		return b.HasChildren
	case *notionapi.ColumnBlock:
		return b.HasChildren
	case *notionapi.SyncedBlock:
		return b.HasChildren
	default:
		return false
	}
}

// extractBlockID returns a block's id, or "" for types that don't carry one
// in a way we need to recurse into.
func extractBlockID(block notionapi.Block) string {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		return string(b.ID)
	case *notionapi.Heading1Block:
		return string(b.ID)
	case *notionapi.Heading2Block:
		return string(b.ID)
	case *notionapi.Heading3Block:
		return string(b.ID)
	case *notionapi.BulletedListItemBlock:
		return string(b.ID)
	case *notionapi.NumberedListItemBlock:
		return string(b.ID)
	case *notionapi.ToDoBlock:
		return string(b.ID)
	case *notionapi.ToggleBlock:
		return string(b.ID)
	case *notionapi.QuoteBlock:
		return string(b.ID)
	case *notionapi.CalloutBlock:
		return string(b.ID)
	case *notionapi.ColumnListBlock:
		return string(b.ID)
	case *notionapi.ColumnBlock:
		return string(b.ID)
	case *notionapi.SyncedBlock:
		return string(b.ID)
	default:
		return ""
	}
}

func setBlockChildren(block notionapi.Block, children []notionapi.Block) notionapi.Block {
	switch b := block.(type) {
	case *notionapi.ParagraphBlock:
		b.Paragraph.Children = children
		return b
	case *notionapi.BulletedListItemBlock:
		b.BulletedListItem.Children = children
		return b
	case *notionapi.NumberedListItemBlock:
		b.NumberedListItem.Children = children
		return b
	case *notionapi.ToDoBlock:
		b.ToDo.Children = children
		return b
	case *notionapi.ToggleBlock:
		b.Toggle.Children = children
		return b
	case *notionapi.QuoteBlock:
		b.Quote.Children = children
		return b
	case *notionapi.CalloutBlock:
		b.Callout.Children = children
		return b
	case *notionapi.ColumnListBlock:
		b.ColumnList.Children = children
		return b
	case *notionapi.ColumnBlock:
		b.Column.Children = children
		return b
	case *notionapi.SyncedBlock:
		b.SyncedBlock.Children = children
		return b
	default:
		return block
	}
}
