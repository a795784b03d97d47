package cache

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/slackcore/runtime/internal/webapi"
)

// SlackUserFetcher is the production UserFetcher, paging through
// users.list via the shared Web API client.
type SlackUserFetcher struct {
	Client *webapi.Client
}

func (f *SlackUserFetcher) FetchUsers(ctx context.Context, cursor string, limit int) (UserPage, error) {
	result, err := f.Client.Push(ctx, webapi.Call{
		Method: "users.list",
		Key:    "workspace",
		Fn: func(ctx context.Context, client *slackapi.Client) (any, error) {
			pagination := client.GetUsersPaginated(
				slackapi.GetUsersOptionLimit(limit),
				slackapi.GetUsersOptionCursor(cursor),
			)
			next, err := pagination.Next(ctx)
			if err != nil {
				return nil, err
			}
			return next, nil
		},
	})
	if err != nil {
		return UserPage{}, fmt.Errorf("cache: fetch users page: %w", err)
	}

	pagination, ok := result.(slackapi.UserPagination)
	if !ok {
		return UserPage{}, fmt.Errorf("cache: fetch users page: unexpected result type %T", result)
	}

	users := make(map[string]any, len(pagination.Users))
	for _, u := range pagination.Users {
		users[u.ID] = u
	}
	return UserPage{Users: users, NextCursor: pagination.Cursor()}, nil
}

// SlackChannelFetcher is the production ChannelFetcher, paging through
// users.conversations for the bot's own membership.
type SlackChannelFetcher struct {
	Client *webapi.Client
	BotID  func() string
}

func (f *SlackChannelFetcher) FetchChannels(ctx context.Context, cursor string, limit int) (ChannelPage, error) {
	result, err := f.Client.Push(ctx, webapi.Call{
		Method: "users.conversations",
		Key:    "workspace",
		Fn: func(ctx context.Context, client *slackapi.Client) (any, error) {
			channels, next, err := client.GetConversationsForUser(&slackapi.GetConversationsForUserParameters{
				UserID: f.BotID(),
				Cursor: cursor,
				Limit:  limit,
			})
			if err != nil {
				return nil, err
			}
			return conversationsResult{channels: channels, next: next}, nil
		},
	})
	if err != nil {
		return ChannelPage{}, fmt.Errorf("cache: fetch channels page: %w", err)
	}

	cr, ok := result.(conversationsResult)
	if !ok {
		return ChannelPage{}, fmt.Errorf("cache: fetch channels page: unexpected result type %T", result)
	}

	ids := make([]string, 0, len(cr.channels))
	for _, c := range cr.channels {
		ids = append(ids, c.ID)
	}
	return ChannelPage{ChannelIDs: ids, NextCursor: cr.next}, nil
}

type conversationsResult struct {
	channels []slackapi.Channel
	next     string
}
