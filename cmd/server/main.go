package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/jun/medidash/internal/app"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	application := app.NewApp(context.Background())

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.NoRoute(lambdaBridge(application))

	addr := ":" + os.Getenv("PORT")
	if addr == ":" {
		addr = ":8080"
	}
	log.Printf("Starting local server on %s", addr)
	log.Fatal(router.Run(addr))
}

// lambdaBridge converts each request into an API Gateway proxy event so the
// local server runs the same router as the Lambda function.
func lambdaBridge(application *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		headers := make(map[string]string)
		for k, v := range c.Request.Header {
			headers[k] = v[0]
		}

		queryParams := make(map[string]string)
		for k, v := range c.Request.URL.Query() {
			queryParams[k] = v[0]
		}

		req := events.APIGatewayProxyRequest{
			Path:                  c.Request.URL.Path,
			HTTPMethod:            c.Request.Method,
			Headers:               headers,
			QueryStringParameters: queryParams,
			PathParameters:        map[string]string{},
			Body:                  string(body),
		}

		resp, err := application.HandleRequest(c.Request.Context(), req)
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}

		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		for k, values := range resp.MultiValueHeaders {
			for _, v := range values {
				c.Writer.Header().Add(k, v)
			}
		}
		c.Status(resp.StatusCode)
		c.Writer.WriteString(resp.Body)
	}
}
