// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/alexyujiuqiao/IM/datatypes"
	"github.com/alexyujiuqiao/IM/embedding"
	"github.com/alexyujiuqiao/IM/handlers"
	"github.com/alexyujiuqiao/IM/llm"
	"github.com/alexyujiuqiao/IM/memory"
	"github.com/alexyujiuqiao/IM/middleware"
	"github.com/alexyujiuqiao/IM/observability"
	"github.com/alexyujiuqiao/IM/rag"
	"github.com/alexyujiuqiao/IM/routes"
	"github.com/alexyujiuqiao/IM/speech"
	"github.com/alexyujiuqiao/IM/store"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "im-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("im-chat-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient builds the vector store client from WEAVIATE_SERVICE_URL.
// Returns nil when the URL is missing or malformed so the service can run
// without persistence.
func newWeaviateClient() *weaviate.Client {
	weaviateURL := os.Getenv("WEAVIATE_SERVICE_URL")
	// Sanitize: trim quotes and whitespace in case the container runtime
	// passes them literally
	weaviateURL = strings.Trim(weaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Running without persistent memory.")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running without persistent memory.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}

	datatypes.EnsureWeaviateSchema(client)
	return client
}

func openAIAPIKey() string {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		if data, err := os.ReadFile("/run/secrets/openai_api_key"); err == nil {
			apiKey = strings.TrimSpace(string(data))
		}
	}
	return apiKey
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "12300"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	log.Println("Configuring the LLM Client")
	var llmClient llm.LLMClient
	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "dashscope":
		llmClient, err = llm.NewDashScopeClient()
		slog.Info("Using DashScope LLM backend")
	case "openai":
		llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to openai")
		llmClient, err = llm.NewOpenAIClient()
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	weaviateClient := newWeaviateClient()
	var factStore rag.FactStore
	var factAdmin handlers.FactAdmin
	if weaviateClient != nil {
		embedder, err := embedding.NewOpenAIEmbedder()
		if err != nil {
			log.Fatalf("Failed to initialize the embedder: %v", err)
		}
		memoryStore := store.NewWeaviateMemoryStore(weaviateClient, embedder)
		factStore = memoryStore
		factAdmin = memoryStore
	}

	memoryService := memory.NewService(llmClient)

	var transcriber speech.Transcriber
	var synthesizer speech.Synthesizer
	if apiKey := openAIAPIKey(); apiKey != "" {
		speechClient := openai.NewClient(apiKey)
		transcriber = speech.NewWhisperTranscriber(speechClient)
		synthesizer = speech.NewOpenAISynthesizer(speechClient)
	} else {
		slog.Warn("OPENAI_API_KEY not set, audio endpoints will degrade to text")
	}

	pipeline := rag.NewPipeline(llmClient, factStore, memoryService, transcriber, rag.DefaultConfig())

	chatHandler := handlers.NewChatHandler(llmClient, pipeline, synthesizer)
	memoryHandler := handlers.NewMemoryHandler(memoryService, factAdmin)

	router := gin.Default()
	router.Use(otelgin.Middleware("im-chat-service"))

	routes.SetupRoutes(router, routes.Deps{
		Chat:   chatHandler,
		Memory: memoryHandler,
		Auth:   middleware.NopAuthProvider{},
	})
	log.Println("started up the container")

	log.Println("Starting the chat server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
