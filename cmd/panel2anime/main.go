package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivlev/panel2anime/internal/api"
	"github.com/ivlev/panel2anime/internal/config"
	"github.com/ivlev/panel2anime/internal/effects"
	"github.com/ivlev/panel2anime/internal/engine"
	"github.com/ivlev/panel2anime/internal/preview"
	"github.com/ivlev/panel2anime/internal/source"
	"github.com/ivlev/panel2anime/internal/storyboard"
	"github.com/ivlev/panel2anime/internal/system"
)

var version = "dev"

func main() {
	cfg := config.Default()
	cfg.BuildVersion = version
	if err := config.LoadEnv(cfg); err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	modePtr := flag.String("mode", "export", "Режим: export (видео в output/), play (окно предпросмотра), serve (HTTP API)")
	projectPtr := flag.String("project", cfg.ProjectPath, "Путь к YAML проекта (по умолчанию: самый свежий файл в input/projects/)")
	outputPtr := flag.String("output", cfg.OutputDir, "Папка для готового видео")
	workersPtr := flag.Int("workers", cfg.Workers, "Потоки декодирования панелей")
	dpiPtr := flag.Int("dpi", cfg.DPI, "DPI для панелей из PDF")
	zoomPtr := flag.String("zoom-mode", cfg.ZoomMode, "Движение для клипов без ключевых кадров: center, top-left, top-right, bottom-left, bottom-right, random")
	encoderPtr := flag.String("encoder", cfg.VideoEncoder, "Энкодер ffmpeg (libvpx-vp9, libvpx)")
	qualityPtr := flag.Int("quality", cfg.Quality, "CRF энкодера (меньше - лучше)")
	marginPtr := flag.Duration("stop-margin", cfg.StopMargin, "Запас таймера остановки записи")
	listenPtr := flag.String("listen", cfg.ListenAddr, "Адрес HTTP API для режима serve")
	statsPtr := flag.Bool("stats", cfg.ShowStats, "Показать отчет о производительности")

	flag.Parse()

	cfg.ProjectPath = *projectPtr
	cfg.OutputDir = *outputPtr
	cfg.Workers = *workersPtr
	cfg.DPI = *dpiPtr
	cfg.ZoomMode = *zoomPtr
	cfg.VideoEncoder = *encoderPtr
	cfg.Quality = *qualityPtr
	cfg.StopMargin = *marginPtr
	cfg.ListenAddr = *listenPtr
	cfg.ShowStats = *statsPtr

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	// Каждый воркер держит открытыми файл панели и, для PDF, документ
	if n := system.InitResourceLimits(uint64(1024 + 4*cfg.Workers)); n > 0 && cfg.ShowStats {
		fmt.Printf("[*] Лимит открытых файлов: %d\n", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch *modePtr {
	case "export":
		err = runExport(ctx, cfg)
	case "play":
		err = runPlay(ctx, cfg)
	case "serve":
		err = runServe(ctx, cfg)
	default:
		err = fmt.Errorf("неизвестный режим %q", *modePtr)
	}
	if err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}
}

// loadProject reads the project file, or the newest one in input/projects.
func loadProject(cfg *config.Config) (*storyboard.Project, error) {
	path := cfg.ProjectPath
	if path == "" {
		os.MkdirAll("input/projects", 0755)
		latest, err := storyboard.FindLatestProject("input/projects")
		if err != nil {
			return nil, fmt.Errorf("%v. Положите YAML проекта в input/projects/", err)
		}
		path = latest
		cfg.ProjectPath = path
		fmt.Printf("[*] Выбран проект: %s\n", path)
	}

	project, err := storyboard.ReadProject(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения проекта: %w", err)
	}

	// Пути к панелям считаются относительно файла проекта
	base := filepath.Dir(path)
	for i := range project.Panels {
		ref := project.Panels[i].Image
		if ref != "" && !filepath.IsAbs(ref) && !strings.HasPrefix(ref, "data:") {
			project.Panels[i].Image = filepath.Join(base, ref)
		}
	}

	if n := effects.FillMissing(project, cfg.ZoomMode); n > 0 {
		fmt.Printf("[*] Движение %s добавлено для %d клипов\n", cfg.ZoomMode, n)
	}
	return project, nil
}

func runExport(ctx context.Context, cfg *config.Config) error {
	startTime := time.Now()

	if err := system.CheckEncoder(cfg.FFmpegPath, cfg.VideoEncoder); err != nil {
		return err
	}

	project, err := loadProject(cfg)
	if err != nil {
		return err
	}

	fmt.Println("--- [PROJECT: PANEL2ANIME] ---")
	fmt.Printf("[*] %s\n", project.Summary())
	fmt.Printf("[*] Разрешение: %dx%d @ %d FPS | Энкодер: %s (CRF %d)\n", cfg.Width, cfg.Height, cfg.FPS, cfg.VideoEncoder, cfg.Quality)
	fmt.Println("-----------------------------")

	session := engine.NewSession(cfg, source.NewResolver(cfg.DPI))

	loadStart := time.Now()
	if err := session.Replace(ctx, project); err != nil {
		return err
	}
	loadTime := time.Since(loadStart)

	if err := session.Capture().Start(ctx); err != nil {
		return fmt.Errorf("запись не запущена: %w", err)
	}

	// Прогресс раз в секунду, пока идет запись
	waitCtx, cancel := context.WithTimeout(ctx, session.Total()+cfg.StopMargin+time.Minute)
	defer cancel()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-session.Capture().Done():
				return
			case <-waitCtx.Done():
				return
			case <-ticker.C:
				fmt.Printf("[>] %s\n", session.Status())
			}
		}
	}()

	captureStart := time.Now()
	artifact, err := session.Capture().Wait(waitCtx)
	if err != nil {
		session.Capture().Discard()
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if artifact == nil {
		if err := session.Err(); err != nil {
			return err
		}
		return errors.New("запись завершилась без видео")
	}
	captureTime := time.Since(captureStart)

	path, err := artifact.Save(cfg.OutputDir)
	if err != nil {
		return err
	}

	if d, err := system.GetMediaDuration(cfg.FFprobePath, path); err == nil {
		fmt.Printf("[*] Длительность видео: %.2fs (таймлайн %.2fs)\n", d.Seconds(), session.Total().Seconds())
	} else {
		fmt.Printf("[!] Длительность не проверена: %v\n", err)
	}

	if cfg.ShowStats {
		printStats(cfg, project, artifact, time.Since(startTime), loadTime, captureTime)
	}

	fmt.Printf("[+++] Успех! Результат: %s\n", path)
	return nil
}

func printStats(cfg *config.Config, project *storyboard.Project, a *engine.Artifact, total, load, capture time.Duration) {
	usage, err := system.ReadResourceUsage()
	resources := usage.String()
	if err != nil {
		resources = fmt.Sprintf("недоступно (%v)", err)
	}

	report := fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Panel Loading: %.2fs\n"+
			"Capture: %.2fs\n"+
			"Artifact: %.1f KiB\n"+
			"Resources: %s\n"+
			"----------------------------\n",
		cfg.BuildVersion, total.Seconds(), load.Seconds(), capture.Seconds(), float64(len(a.Data))/1024, resources,
	)
	fmt.Print(report)

	// Логирование в файл
	logEntry := fmt.Sprintf("[%s] Build: %s | Project: %s | Clips: %d | Total: %.2fs | Load: %.2fs | Capture: %.2fs | Size: %d\n",
		time.Now().Format("2006-01-02 15:04:05"),
		cfg.BuildVersion,
		filepath.Base(cfg.ProjectPath),
		len(project.Clips),
		total.Seconds(),
		load.Seconds(),
		capture.Seconds(),
		len(a.Data),
	)

	f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		f.WriteString(logEntry)
		f.Close()
	} else {
		fmt.Printf("[!] Не удалось записать benchmark.log: %v\n", err)
	}
}

func runPlay(ctx context.Context, cfg *config.Config) error {
	project, err := loadProject(cfg)
	if err != nil {
		return err
	}

	session := engine.NewSession(cfg, source.NewResolver(cfg.DPI), engine.WithExternalHost())
	if err := session.Replace(ctx, project); err != nil {
		return err
	}
	fmt.Printf("[*] %s\n", project.Summary())

	return preview.Run(preview.New(session, cfg.OutputDir), "panel2anime - "+project.Summary(), cfg.TickRate)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	gin.SetMode(gin.ReleaseMode)
	session := engine.NewSession(cfg, source.NewResolver(cfg.DPI))

	if cfg.ProjectPath != "" {
		project, err := loadProject(cfg)
		if err != nil {
			return err
		}
		if err := session.Replace(ctx, project); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(session),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[*] HTTP API: %s\n", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Println("[*] Остановка сервера...")
	session.Capture().Discard()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
