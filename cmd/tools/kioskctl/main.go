package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/config"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/protocol"
	"github.com/zhouzirui/habitat-kiosk/backend/internal/storage/sqlite"
)

var kindStyles = map[protocol.Kind]lipgloss.Style{
	protocol.KindIdentity:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
	protocol.KindTeacherReport: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
	protocol.KindGesture:       lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	protocol.KindHabitat:       lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	protocol.KindAnimal:        lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	protocol.KindReportType:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
}

var timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "操作: init, seed, add-user, report 或 tail")
	dbPath := flag.String("db", cfg.Storage.DBPath, "SQLite 数据库路径")
	name := flag.String("name", "", "add-user: 用户名")
	mac := flag.String("mac", "", "add-user: 已配对蓝牙设备的 MAC 地址")
	role := flag.String("role", string(user.Kid), "add-user: Kid 或 Teacher")
	image := flag.String("image", "", "add-user: 参考人脸图片路径")
	addr := flag.String("addr", cfg.Kiosk.Addr, "tail: 事件通道地址，ws:// 开头时使用 websocket")
	timeout := flag.Duration("timeout", 10*time.Second, "数据库操作超时时间")

	flag.Parse()

	switch *mode {
	case "tail":
		if err := tail(*addr, os.Stdout); err != nil {
			log.Fatalf("tail 失败: %v", err)
		}
		return
	case "init", "seed", "add-user", "report":
	default:
		flag.Usage()
		log.Fatal("请通过 -mode 指定操作: init, seed, add-user, report 或 tail")
	}

	// Open 会自动执行迁移，init 只需打开再关闭
	store, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "init":
		log.Printf("数据库已就绪: %s", *dbPath)
	case "seed":
		added, err := store.SeedKnownUsers(ctx)
		if err != nil {
			log.Fatalf("写入预置用户失败: %v", err)
		}
		log.Printf("新增 %d 个预置用户", added)
	case "add-user":
		r := user.ParseRole(*role)
		if r == user.Unknown {
			log.Fatalf("未知角色 %q，只支持 Kid 或 Teacher", *role)
		}
		id, err := store.CreateUser(ctx, user.User{
			Name:               *name,
			Role:               r,
			DeviceAddress:      *mac,
			ReferenceImagePath: *image,
		})
		if err != nil {
			log.Fatalf("新增用户失败: %v", err)
		}
		log.Printf("用户 %s 已创建，user_id=%d", *name, id)
	case "report":
		rep, err := store.TeacherReport(ctx)
		if err != nil {
			log.Fatalf("读取报告失败: %v", err)
		}
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			log.Fatalf("编码报告失败: %v", err)
		}
		fmt.Println(string(out))
	}
}

// tail 充当展示端，连接事件通道并逐行打印解码后的事件。
func tail(addr string, out io.Writer) error {
	stream, err := dial(addr)
	if err != nil {
		return err
	}
	defer stream.Close()

	log.Printf("已连接 %s，等待事件...", addr)
	dec := protocol.NewDecoder(stream)
	for {
		event, err := dec.Next()
		if err == io.EOF {
			log.Println("服务端关闭了连接")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, render(event, time.Now()))
	}
}

func render(e protocol.Event, at time.Time) string {
	style, ok := kindStyles[e.Kind]
	if !ok {
		style = lipgloss.NewStyle()
	}
	payload := e.Label
	if e.Kind == protocol.KindTeacherReport {
		if raw, err := json.Marshal(e.Report); err == nil {
			payload = string(raw)
		}
	}
	return fmt.Sprintf("%s %s %s", timeStyle.Render(at.Format("15:04:05.000")), style.Render(string(e.Kind)), payload)
}

func dial(addr string) (io.ReadCloser, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
		if err != nil {
			return nil, fmt.Errorf("dial websocket %s: %w", addr, err)
		}
		pr, pw := io.Pipe()
		go func() {
			// 每条文本消息是一行事件，补回换行交给 Decoder
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						pw.Close()
					} else {
						pw.CloseWithError(err)
					}
					return
				}
				if _, err := pw.Write(append(msg, '\n')); err != nil {
					return
				}
			}
		}()
		return &wsStream{PipeReader: pr, conn: conn}, nil
	}

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

type wsStream struct {
	*io.PipeReader
	conn *websocket.Conn
}

func (s *wsStream) Close() error {
	s.PipeReader.Close()
	return s.conn.Close()
}
