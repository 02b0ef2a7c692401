package ledgerrpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls paywall.v1.Ledger over a gRPC connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (client *Client) CommitView(ctx context.Context, request *CommitViewRequest) (*CommitViewResponse, error) {
	response := new(CommitViewResponse)
	return response, client.invoke(ctx, methodCommitView, request, response)
}

func (client *Client) UpdateHistogram(ctx context.Context, request *UpdateHistogramRequest) (*UpdateHistogramResponse, error) {
	response := new(UpdateHistogramResponse)
	return response, client.invoke(ctx, methodUpdateHistogram, request, response)
}

func (client *Client) GetHistogram(ctx context.Context, request *GetHistogramRequest) (*GetHistogramResponse, error) {
	response := new(GetHistogramResponse)
	return response, client.invoke(ctx, methodGetHistogram, request, response)
}

func (client *Client) SetOptOut(ctx context.Context, request *SetOptOutRequest) (*SetOptOutResponse, error) {
	response := new(SetOptOutResponse)
	return response, client.invoke(ctx, methodSetOptOut, request, response)
}

func (client *Client) UserChannels(ctx context.Context, request *UserChannelsRequest) (*UserChannelsResponse, error) {
	response := new(UserChannelsResponse)
	return response, client.invoke(ctx, methodUserChannels, request, response)
}

func (client *Client) MonetizationStatusBulk(ctx context.Context, request *MonetizationStatusBulkRequest) (*MonetizationStatusBulkResponse, error) {
	response := new(MonetizationStatusBulkResponse)
	return response, client.invoke(ctx, methodMonetizationStatusBulk, request, response)
}

func (client *Client) GetVideoSettings(ctx context.Context, request *GetVideoSettingsRequest) (*GetVideoSettingsResponse, error) {
	response := new(GetVideoSettingsResponse)
	return response, client.invoke(ctx, methodGetVideoSettings, request, response)
}

func (client *Client) UpdateVideoSettings(ctx context.Context, request *UpdateVideoSettingsRequest) (*Empty, error) {
	response := new(Empty)
	return response, client.invoke(ctx, methodUpdateVideoSettings, request, response)
}

func (client *Client) RegisterVideo(ctx context.Context, request *RegisterVideoRequest) (*Empty, error) {
	response := new(Empty)
	return response, client.invoke(ctx, methodRegisterVideo, request, response)
}

func (client *Client) invoke(ctx context.Context, method string, request any, response any) error {
	return client.conn.Invoke(ctx, fullMethod(method), request, response, CallOption())
}
