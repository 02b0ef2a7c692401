package ledgerrpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "paywall.v1.Ledger"

const (
	methodCommitView             = "CommitView"
	methodUpdateHistogram        = "UpdateHistogram"
	methodGetHistogram           = "GetHistogram"
	methodSetOptOut              = "SetOptOut"
	methodUserChannels           = "UserChannels"
	methodMonetizationStatusBulk = "MonetizationStatusBulk"
	methodGetVideoSettings       = "GetVideoSettings"
	methodUpdateVideoSettings    = "UpdateVideoSettings"
	methodRegisterVideo          = "RegisterVideo"
)

// LedgerServer is the server API for the paywall.v1.Ledger service.
type LedgerServer interface {
	CommitView(context.Context, *CommitViewRequest) (*CommitViewResponse, error)
	UpdateHistogram(context.Context, *UpdateHistogramRequest) (*UpdateHistogramResponse, error)
	GetHistogram(context.Context, *GetHistogramRequest) (*GetHistogramResponse, error)
	SetOptOut(context.Context, *SetOptOutRequest) (*SetOptOutResponse, error)
	UserChannels(context.Context, *UserChannelsRequest) (*UserChannelsResponse, error)
	MonetizationStatusBulk(context.Context, *MonetizationStatusBulkRequest) (*MonetizationStatusBulkResponse, error)
	GetVideoSettings(context.Context, *GetVideoSettingsRequest) (*GetVideoSettingsResponse, error)
	UpdateVideoSettings(context.Context, *UpdateVideoSettingsRequest) (*Empty, error)
	RegisterVideo(context.Context, *RegisterVideoRequest) (*Empty, error)
}

// ServiceDesc describes paywall.v1.Ledger for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(methodCommitView, LedgerServer.CommitView),
		unaryMethod(methodUpdateHistogram, LedgerServer.UpdateHistogram),
		unaryMethod(methodGetHistogram, LedgerServer.GetHistogram),
		unaryMethod(methodSetOptOut, LedgerServer.SetOptOut),
		unaryMethod(methodUserChannels, LedgerServer.UserChannels),
		unaryMethod(methodMonetizationStatusBulk, LedgerServer.MonetizationStatusBulk),
		unaryMethod(methodGetVideoSettings, LedgerServer.GetVideoSettings),
		unaryMethod(methodUpdateVideoSettings, LedgerServer.UpdateVideoSettings),
		unaryMethod(methodRegisterVideo, LedgerServer.RegisterVideo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "paywall/v1/ledger",
}

// RegisterLedgerServer registers server on registrar.
func RegisterLedgerServer(registrar grpc.ServiceRegistrar, server LedgerServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryMethod[Request any, Response any](method string, call func(LedgerServer, context.Context, *Request) (*Response, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(Request)
			if err := decode(request); err != nil {
				return nil, err
			}
			ledgerServer := server.(LedgerServer)
			if interceptor == nil {
				return call(ledgerServer, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, decoded any) (any, error) {
				return call(ledgerServer, ctx, decoded.(*Request))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}
