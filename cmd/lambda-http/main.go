package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"filevault/internal/bootstrap"
	"filevault/internal/shared/config"
	"filevault/internal/shared/telemetry"
)

type proxyFunc func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// lazyProxy builds the router on the first invocation and reuses it for the
// lifetime of the execution environment.
type lazyProxy struct {
	once  sync.Once
	build func() (*gin.Engine, error)
	proxy *ginadapter.GinLambdaV2
	err   error
}

func (l *lazyProxy) handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	l.once.Do(func() {
		router, err := l.build()
		if err != nil {
			l.err = err
			return
		}
		l.proxy = ginadapter.NewV2(router)
	})
	if l.err != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": l.err.Error()})
		return errorResponse(http.StatusInternalServerError, "internal_error", "Internal server error"), l.err
	}
	return l.proxy.ProxyWithContext(ctx, req)
}

func errorResponse(status int, code, message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func buildRouter() (*gin.Engine, error) {
	app, err := bootstrap.Build(config.Load())
	if err != nil {
		return nil, err
	}
	return app.Router, nil
}

func main() {
	var handler proxyFunc = (&lazyProxy{build: buildRouter}).handle
	lambda.Start(handler)
}
